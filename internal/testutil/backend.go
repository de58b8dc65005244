package testutil

import (
	"strconv"

	"tasksync/internal/backend/memory"
	"tasksync/internal/service"
)

// Collection is the collection id used by Backend.
const Collection = "@default"

// Ada is the seeded test account.
var Ada = service.Profile{DisplayName: "Ada", Email: "ada@example.com"}

// AdaPassword is Ada's password.
const AdaPassword = "secret"

// Fixture is an in-memory backend with one account.
type Fixture struct {
	Identity *memory.Identity
	Store    *memory.Store
}

// NewFixture creates a backend that knows Ada, with nobody signed in and an
// empty collection.
func NewFixture() *Fixture {
	f := &Fixture{Identity: memory.NewIdentity(), Store: memory.NewStore()}
	f.Identity.AddAccount(Ada.Email, AdaPassword, Ada)
	return f
}

// SignedIn marks Ada as signed in on the provider side.
func (f *Fixture) SignedIn() *Fixture {
	p := Ada
	f.Identity.Push(&p)
	return f
}

// WithItems seeds the collection with titles, ids "t1", "t2", ...
func (f *Fixture) WithItems(titles ...string) *Fixture {
	for i, title := range titles {
		f.Store.Put(Collection, itemID(i), title, false)
	}
	return f
}

// Backend returns the fixture as a service.Backend.
func (f *Fixture) Backend() service.Backend {
	return service.Backend{Identity: f.Identity, Store: f.Store}
}

func itemID(i int) string {
	return "t" + strconv.Itoa(i+1)
}
