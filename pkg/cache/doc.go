// Package cache provides the price cache: the public entry point for price
// lookups and refresh requests.
//
// The cache owns the quote store and the set of in-flight markers. A marker is
// set for an (item, world) key before the key is handed to the batch scheduler
// and cleared exactly once, when the fetch pipeline either delivers a quote
// (Update) or gives up on the key (Release). While a key is marked, further
// requests for it are suppressed, so at most one fetch per key is in flight.
//
// GetPricing and RequestCheck never block on network I/O.
//
// # Basic Usage
//
//	sched, _ := batch.New(batch.DefaultConfig(), worker)
//	pc, _ := cache.New(cache.DefaultConfig(), sched, store, bus, catalog)
//
//	// Load persisted quotes before any fetch can run
//	if err := pc.Load(ctx); err != nil {
//		log.Warn().Err(err).Msg("Starting with an empty cache")
//	}
//	worker.Start(ctx, pc)
//	go sched.Run(ctx, time.Second)
//	go pc.Run(ctx)
//
//	switch result, q := pc.GetPricing(5333, 21, false, false); result {
//	case cache.ResultSuccessful:
//		fmt.Println(q.Average.All)
//	case cache.ResultQueued, cache.ResultAlreadyQueued:
//		// ask again later
//	}
//
// # Staleness
//
// A quote is stale when it was received more than MaxAge ago. With AutoRequest
// enabled a stale hit is still returned as successful and a refresh is queued
// in the background. With AutoRequest disabled the stale quote is returned as is.
//
// # Persistence
//
// Every Update requests a save. Saves run on the Run goroutine and are throttled
// to one per AutomaticSaveTime unless forced; Close performs a final forced save.
package cache
