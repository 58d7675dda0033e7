// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package async

// A Token is a payload-less cell used purely to sequence side
// effects: a resolved token means "the guarded effect has happened"
// (or failed, with an error). Dispatches are totally ordered by
// threading each dispatch's outgoing token to the next dispatch's
// incoming token.
type Token struct {
	Cell[struct{}]
}

// NewToken returns a new, pending token.
func NewToken() *Token {
	return new(Token)
}

// Ready returns a token that is already done, for the head of a
// sequencing chain.
func Ready() *Token {
	t := new(Token)
	t.Done()
	return t
}

// Failed returns a token that is already resolved to error err.
func Failed(err error) *Token {
	t := new(Token)
	t.Fail(err)
	return t
}

// Done resolves the token, signaling that the guarded effect has
// happened. Done panics if the token has already resolved.
func (t *Token) Done() {
	t.MakeConcrete(struct{}{})
}

// Fail resolves the token to error err. Fail panics if the token has
// already resolved.
func (t *Token) Fail(err error) {
	t.SetError(err)
}
