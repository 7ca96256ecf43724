// Package client is the Go SDK for a stampd timestamping server.
//
// # Stamping a document
//
//	c, err := client.New("https://stamp.example.com",
//	    client.WithTimeout(5*time.Second),
//	    client.WithCacheTTL(time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	f, _ := os.Open("contract.pdf")
//	sum, err := client.Checksum(f)
//	receipt, err := c.Stamp(ctx, sum)
//
// Stamping the same checksum twice returns ErrDuplicate.
//
// # Proving it later
//
// Fetch an inclusion proof and keep it next to the document:
//
//	p, err := c.Proof(ctx, sum)
//
// Anyone holding a root they trust (for example one published in a signed
// checkpoint) can check the proof without talking to the server:
//
//	ok, err := client.VerifyOffline(rawProof, trustedRoot)
//
// Consistency proofs show that a newer root extends an older one:
//
//	cp, err := c.Consistency(ctx, oldRoot, 0)
package client
