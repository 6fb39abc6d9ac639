// Package delivery selects and renders ads for placement requests.
//
// A request flows through Match (eligible campaigns, shuffled and limited),
// PadWithFallbacks, PickCreative and BuildAd. The analytics write for the
// request is handed to a Recorder and never delays the response.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/; repository/redis/ adds a read-through cache.
package delivery
