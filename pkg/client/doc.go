// Package client is a Go SDK for a running bili-card server.
//
// # Fetching a card
//
//	c, err := client.New("https://card.example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	card, err := c.Card(ctx, "2", client.CardOptions{Theme: "simple", Color: "dark"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("card.svg", card.SVG, 0o644)
//
// The server answers every card request with an SVG, including failures.
// Card.Failed reports whether the document is an error card.
//
// # Catalog
//
// Themes lists the available themes and color palettes; Theme and Palette
// fetch a single entry.
//
// # Local caching
//
// WithCacheTTL keeps successful cards in memory, keyed by request URL:
//
//	c, _ := client.New(base, client.WithCacheTTL(10*time.Minute))
package client
