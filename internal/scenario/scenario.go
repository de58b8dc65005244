// Package scenario replays scripted interleavings of provider pushes, store
// snapshots and user intents against the in-memory backend and records a
// deterministic trace of the resulting screen states.
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"tasksync/internal/mirror"
	"tasksync/internal/service"
)

// DefaultCollection is used when a scenario names no collection.
const DefaultCollection = "default"

// Scenario is one scripted run.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Policy is the mirror reconciliation policy: auto, write-through or ephemeral.
	Policy string `yaml:"policy,omitempty"`

	// Collection is the collection id. Defaults to DefaultCollection.
	Collection string `yaml:"collection,omitempty"`

	// Users are the accounts known to the identity provider.
	Users []User `yaml:"users,omitempty"`

	// SignedIn is the email of the user the provider considers signed in
	// before the screen opens. Empty means nobody.
	SignedIn string `yaml:"signed_in,omitempty"`

	// Items seed the remote collection.
	Items []Seed `yaml:"items,omitempty"`

	// Steps run in order after the screen opens.
	Steps []Step `yaml:"steps"`
}

// User is a seeded account.
type User struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name,omitempty"`
	Photo    string `yaml:"photo,omitempty"`

	// Google links the account to sign_in_google.
	Google bool `yaml:"google,omitempty"`
}

// Seed is a seeded remote item.
type Seed struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title,omitempty"`
	Done  bool   `yaml:"done,omitempty"`
}

// Step is one scripted event. Op selects which other fields apply.
type Step struct {
	Op string `yaml:"op"`

	// Email and Password are the credentials of sign_in and sign_up, and
	// Email selects the profile of push_auth (empty pushes "signed out").
	Email    string `yaml:"email,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Name overrides the display name pushed by push_auth.
	Name string `yaml:"name,omitempty"`

	// Item is the item id of toggle and the remote_* ops.
	Item  string `yaml:"item,omitempty"`
	Title string `yaml:"title,omitempty"`
	Done  bool   `yaml:"done,omitempty"`

	// Records is the raw snapshot of publish. Malformed records are allowed.
	Records []service.Record `yaml:"records,omitempty"`

	// Error is the failure injected by drop_auth, drop_store and inject.
	Error string `yaml:"error,omitempty"`

	// Target and Enabled configure inject.
	Target  string `yaml:"target,omitempty"`
	Enabled bool   `yaml:"enabled,omitempty"`

	// Expect holds the assertions of an expect step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect asserts on the current screen. Unset fields are not checked.
type Expect struct {
	// Session is the session kind, e.g. "authenticated".
	Session string `yaml:"session,omitempty"`

	// Profile is the display name (or email) of the signed-in user.
	Profile string `yaml:"profile,omitempty"`

	Pending *bool `yaml:"pending,omitempty"`
	Synced  *bool `yaml:"synced,omitempty"`

	// Items lists the merged view as "id=true" / "id=false", with a trailing
	// "*" for unconfirmed values. An empty list asserts an empty view.
	Items *[]string `yaml:"items,omitempty"`

	// Notices is the number of notices raised so far.
	Notices *int `yaml:"notices,omitempty"`

	// Calls counts provider calls by op: sign_in, sign_in_google, sign_up,
	// sign_out.
	Calls map[string]int `yaml:"calls,omitempty"`

	// Writes counts store writes.
	Writes *int `yaml:"writes,omitempty"`

	// AuthListeners and StoreListeners count live subscriptions.
	AuthListeners  *int `yaml:"auth_listeners,omitempty"`
	StoreListeners *int `yaml:"store_listeners,omitempty"`
}

// Step ops.
const (
	OpPushAuth            = "push_auth"
	OpDropAuth            = "drop_auth"
	OpPublish             = "publish"
	OpDropStore           = "drop_store"
	OpRemoteSet           = "remote_set"
	OpRemoteAdd           = "remote_add"
	OpRemoteDelete        = "remote_delete"
	OpSignIn              = "sign_in"
	OpSignInGoogle        = "sign_in_google"
	OpSignUp              = "sign_up"
	OpSignOut             = "sign_out"
	OpBeginCreateAccount  = "begin_create_account"
	OpCancelCreateAccount = "cancel_create_account"
	OpToggle              = "toggle"
	OpHold                = "hold"
	OpRelease             = "release"
	OpResubscribe         = "resubscribe"
	OpInject              = "inject"
	OpExpect              = "expect"
)

// Inject targets.
const (
	TargetSignIn      = "sign_in"
	TargetSignUp      = "sign_up"
	TargetSignOut     = "sign_out"
	TargetWrite       = "write"
	TargetLostWrites  = "lost_writes"
	TargetQuietSignIn = "quiet_sign_in"
)

// LoadFile reads and parses a scenario YAML file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Load parses a scenario. Unknown fields are rejected to catch typos.
func Load(r io.Reader) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if sc.Collection == "" {
		sc.Collection = DefaultCollection
	}
	if err := validate(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validate(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if _, err := mirror.ParsePolicy(sc.Policy); err != nil {
		return err
	}

	emails := make(map[string]bool, len(sc.Users))
	for i, u := range sc.Users {
		if u.Email == "" {
			return fmt.Errorf("users[%d]: email is required", i)
		}
		if emails[u.Email] {
			return fmt.Errorf("users[%d]: duplicate email %q", i, u.Email)
		}
		emails[u.Email] = true
	}
	if sc.SignedIn != "" && !emails[sc.SignedIn] {
		return fmt.Errorf("signed_in: unknown user %q", sc.SignedIn)
	}

	ids := make(map[string]bool, len(sc.Items))
	for i, it := range sc.Items {
		if it.ID == "" {
			return fmt.Errorf("items[%d]: id is required", i)
		}
		if ids[it.ID] {
			return fmt.Errorf("items[%d]: duplicate id %q", i, it.ID)
		}
		ids[it.ID] = true
	}

	for i, st := range sc.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, st.Op, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	switch st.Op {
	case OpToggle, OpRemoteSet, OpRemoteAdd, OpRemoteDelete:
		if st.Item == "" {
			return fmt.Errorf("item is required")
		}
	case OpDropAuth, OpDropStore:
		if st.Error == "" {
			return fmt.Errorf("error is required")
		}
	case OpInject:
		switch st.Target {
		case TargetSignIn, TargetSignUp, TargetSignOut, TargetWrite, TargetLostWrites, TargetQuietSignIn:
		default:
			return fmt.Errorf("unknown inject target %q", st.Target)
		}
	case OpExpect:
		if st.Expect == nil {
			return fmt.Errorf("expect is required")
		}
	case OpPushAuth, OpPublish, OpSignIn, OpSignInGoogle, OpSignUp, OpSignOut,
		OpBeginCreateAccount, OpCancelCreateAccount, OpHold, OpRelease, OpResubscribe:
	default:
		return fmt.Errorf("unknown op")
	}
	return nil
}
