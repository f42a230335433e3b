// Package client is the star registry Go SDK.
//
// Registering a star is a two-step exchange. First ask the registry for an
// ownership challenge, sign it with the key behind the address, then submit
// the signature together with the star before the challenge window closes:
//
//	c, err := client.New("http://localhost:8000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ch, err := c.RequestValidation(ctx, address)
//	// ... sign ch.Message with a Bitcoin signed-message wallet ...
//	res, err := c.SubmitStar(ctx, address, ch.Message, sig, client.Star{
//	    RA:    "16h 29m 1.0s",
//	    Dec:   "-26° 29' 24.9",
//	    Story: "Found star using https://www.google.com/sky/",
//	})
//	fmt.Println(res.Block.Hash, res.Receipt)
//
// Registry rejections come back as *APIError and match the package sentinels:
//
//	if errors.Is(err, client.ErrChallengeExpired) {
//	    // request a fresh challenge
//	}
//
// Sealed blocks never change, so block lookups can be cached:
//
//	c, _ := client.New(registryURL, client.WithCacheTTL(time.Minute))
package client
