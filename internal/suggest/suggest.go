// Package suggest drafts campaign messages from an objective.
//
// Suggestions come from a fixed template catalogue. The objective picks a
// theme by keyword and seeds the selection order, so the same objective
// always yields the same drafts. Every draft keeps the {name} placeholder
// that campaign delivery personalises.
package suggest

import (
	"hash/fnv"
	"math/rand/v2"
	"strings"
)

// DefaultCount is used when a request asks for zero suggestions.
const DefaultCount = 3

type theme struct {
	keywords  []string
	templates []string
}

var themes = []theme{
	{
		keywords: []string{"win back", "winback", "inactive", "lapsed", "return", "miss", "reactivat"},
		templates: []string{
			"Hi {name}, we miss you! Come back this week and enjoy 15% off your next order.",
			"{name}, it has been a while. Here is a little something to welcome you back: free shipping on us.",
			"Hey {name}, your favourites are waiting. Drop by again and we will make it worth your while.",
			"{name}, we saved you a seat. Return before Sunday for an exclusive comeback offer.",
		},
	},
	{
		keywords: []string{"loyal", "vip", "reward", "thank", "top", "best"},
		templates: []string{
			"{name}, thank you for being one of our best customers. Enjoy early access to our new collection.",
			"Hi {name}, as a valued member you have unlocked a VIP reward. Redeem it on your next visit.",
			"{name}, your loyalty means the world to us. Here is double points on everything this week.",
			"Thanks for sticking with us, {name}. A surprise gift is waiting at checkout.",
		},
	},
	{
		keywords: []string{"launch", "new", "product", "arrival", "collection"},
		templates: []string{
			"{name}, something new just landed and we think you will love it. Be the first to try it.",
			"Hi {name}, our latest arrivals are here. Take a look before they sell out.",
			"{name}, meet the newest addition to our range, picked with customers like you in mind.",
			"Fresh in store, {name}! Discover what is new this season.",
		},
	},
	{
		keywords: []string{"sale", "discount", "offer", "deal", "festive", "holiday"},
		templates: []string{
			"{name}, our biggest sale of the season starts now. Up to 40% off selected items.",
			"Hi {name}, a limited-time deal just for you: use code SAVE20 at checkout.",
			"{name}, the festive offers are live! Grab your favourites at special prices.",
			"Don't miss out, {name}. Prices drop this weekend only.",
		},
	},
}

var generic = []string{
	"Hi {name}, we have something special for you. Visit us soon to find out more.",
	"{name}, thanks for being part of our community. Here is an update we think you will like.",
	"Hello {name}! We have been busy making things better for you. Come see what has changed.",
	"{name}, a quick note from us: your next visit comes with a little extra.",
}

// Messages returns count message drafts for the objective. A count of zero
// or less returns DefaultCount drafts. The result never repeats a draft and
// is capped at the number of templates available for the chosen theme.
func Messages(objective string, count int) []string {
	if count <= 0 {
		count = DefaultCount
	}

	normalized := strings.ToLower(strings.TrimSpace(objective))
	pool := append(append([]string(nil), templatesFor(normalized)...), generic...)

	h := fnv.New64a()
	h.Write([]byte(normalized))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	// themed drafts first, each half shuffled on its own
	themed := len(pool) - len(generic)
	rng.Shuffle(themed, func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	rest := pool[themed:]
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	if count > len(pool) {
		count = len(pool)
	}
	return pool[:count]
}

func templatesFor(objective string) []string {
	for _, t := range themes {
		for _, kw := range t.keywords {
			if strings.Contains(objective, kw) {
				return t.templates
			}
		}
	}
	return nil
}
