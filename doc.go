// Package loader fetches resources asynchronously, decodes them into a
// requested representation, and shares the work between callers.
//
// Concurrent loads of the same locator and byte range are collapsed into a
// single transport round trip through an [inflight.Registry]; every caller
// receives the same progress notifications and the same outcome. Successful
// results are kept in a [cache.Store] and handed back to later callers without
// touching the network.
//
// # Quick Start
//
//	l := loader.New()
//	l.SetResponseType(loader.ResponseArrayBuffer).SetRange(100, 50)
//
//	l.Load("https://example.com/model.bin",
//	    func(payload any) { data := payload.([]byte); _ = data },
//	    func(p loader.Progress) { fmt.Println(p.Loaded, p.Total) },
//	    func(err error) { log.Println(err) },
//	)
//
// Load never blocks. Results arrive through the callbacks, on a goroutine
// owned by the loader. Callers that prefer a blocking call can use
// [Loader.LoadContext] or [Loader.LoadAll].
//
// # Sharing State
//
// The cache store and the in-flight registry are plain values owned by the
// application. Pass the same instances to every loader that should reuse
// results or deduplicate requests:
//
//	store := cache.NewMemory()
//	reg := inflight.New()
//	textures := loader.New(loader.WithCache(store), loader.WithRegistry(reg))
//	shaders := loader.New(loader.WithCache(store), loader.WithRegistry(reg))
//
// # Transports
//
// The default transport routes http, https, file and oci locators to the
// matching implementation under the transport package. Supply a custom
// [transport.Transport] with [WithTransport].
package loader
