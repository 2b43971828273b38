// Package registrar runs the one-time registration handshake with the
// monitoring registry. The registry cannot reach the receiver directly, so
// the verification code travels over the satellite downlink itself: the
// receiver proves possession of the downlink by decrypting the broadcast
// message and possession of the key by signing the code.
package registrar

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"satmon/internal/identity"
	"satmon/internal/keyring"
	"satmon/internal/registry"
)

// State of the registration handshake.
type State string

const (
	StateIdle         State = "IDLE"
	StateEnrolling    State = "ENROLLING"
	StateAwaitingCode State = "AWAITING_CODE"
	StateVerifying    State = "VERIFYING"
	StatePersisting   State = "PERSISTING"
	StateRegistered   State = "REGISTERED"
	StateFailed       State = "FAILED"
)

var (
	// ErrTimeout: no matching verification message arrived in time.
	ErrTimeout = errors.New("verification code not received; check the antenna pointing and relaunch to re-enroll")
	// ErrServerRejected: terminal registry rejection.
	ErrServerRejected = errors.New("registry rejected the request")
)

// Inbox yields decryptable satellite broadcast messages addressed to this
// receiver's key. Next blocks until a message arrives or ctx ends.
type Inbox interface {
	Next(ctx context.Context) ([]byte, error)
}

// Keys is the subset of the keyring gateway the registrar needs.
type Keys interface {
	Fingerprint() string
	PublicKeyArmored() (string, error)
	Sign(data []byte) (string, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	Unlocked() bool
}

// Options configure one handshake run.
type Options struct {
	CfgDir    string
	Address   string
	Satellite string

	CodeDeadline time.Duration // bound on AWAITING_CODE, default 30 min
	Retries      int           // transport retry budget, default 3
	RetryWait    time.Duration // pause between retries, default 1 s
}

func (o *Options) fill() {
	if o.CodeDeadline == 0 {
		o.CodeDeadline = 30 * time.Minute
	}
	if o.Retries == 0 {
		o.Retries = 3
	}
	if o.RetryWait == 0 {
		o.RetryWait = time.Second
	}
}

// Registrar owns the handshake state machine.
type Registrar struct {
	client *registry.Client
	keys   Keys
	inbox  Inbox
	opts   Options
	log    *logrus.Entry

	mu       sync.Mutex
	state    State
	lastErr  error
	id       *identity.Identity
	password string
	reenroll bool

	lockOnce sync.Once
	lockCh   chan struct{}
	rearmCh  chan struct{}
}

// New builds a registrar. It does not touch the network until Run.
func New(client *registry.Client, keys Keys, inbox Inbox, opts Options, log *logrus.Entry) *Registrar {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	opts.fill()
	return &Registrar{
		client:  client,
		keys:    keys,
		inbox:   inbox,
		opts:    opts,
		log:     log,
		state:   StateIdle,
		lockCh:  make(chan struct{}),
		rearmCh: make(chan struct{}, 1),
	}
}

// State returns the current handshake state.
func (r *Registrar) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the failure that moved the handshake to FAILED, if any.
func (r *Registrar) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Registered reports whether durable credentials exist.
func (r *Registrar) Registered() bool {
	return r.State() == StateRegistered
}

// Credentials returns the durable identity and password once registered.
func (r *Registrar) Credentials() (identity.Identity, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRegistered || r.id == nil {
		return identity.Identity{}, "", false
	}
	return *r.id, r.password, true
}

// SignalLock tells the registrar the demodulator has locked at least once.
// The handshake waits for lock before enrolling, since the verification code
// only arrives over the satellite downlink.
func (r *Registrar) SignalLock() {
	r.lockOnce.Do(func() { close(r.lockCh) })
}

// Rearm forces a fresh handshake, used after the registry rejects the stored
// password. The durable files stay in place until the new verify overwrites
// them atomically.
func (r *Registrar) Rearm() {
	r.mu.Lock()
	r.reenroll = true
	r.mu.Unlock()
	select {
	case r.rearmCh <- struct{}{}:
	default:
	}
}

func (r *Registrar) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.log.WithField("state", string(s)).Debug("registration state")
}

func (r *Registrar) fail(err error) error {
	r.mu.Lock()
	r.state = StateFailed
	r.lastErr = err
	r.mu.Unlock()
	r.log.WithError(err).Error("registration failed")
	return err
}

// Run drives the handshake until the context ends. After a successful
// registration it stays parked, re-running the handshake when Rearm fires.
// A failed handshake is terminal for this process: the state machine is
// deliberately not restarted, since the operator may need to fix the antenna.
func (r *Registrar) Run(ctx context.Context) error {
	for {
		if err := r.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.rearmCh:
		}
	}
}

func (r *Registrar) runOnce(ctx context.Context) error {
	r.mu.Lock()
	force := r.reenroll
	r.reenroll = false
	r.mu.Unlock()

	// Resume from durable credentials unless a re-enrollment was forced.
	if !force {
		if id, pwd, err := identity.Load(r.opts.CfgDir); err == nil && id != nil {
			r.mu.Lock()
			r.id, r.password, r.state = id, pwd, StateRegistered
			r.mu.Unlock()
			r.log.WithField("uuid", id.UUID).Info("receiver already registered")
			return nil
		} else if err != nil && errors.Is(err, identity.ErrInconsistent) {
			return r.fail(err)
		}
	}

	if !r.keys.Unlocked() {
		return r.fail(keyring.ErrLocked)
	}

	// The code arrives over satellite, so enrolling before the demodulator
	// ever locked would just burn the nonce.
	r.log.Info("waiting for receiver lock to start the registration")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.lockCh:
	}

	enrollment, err := r.enroll(ctx)
	if err != nil {
		return r.fail(err)
	}

	code, err := r.awaitCode(ctx, enrollment.Nonce)
	if err != nil {
		return r.fail(err)
	}

	password, verified, err := r.verify(ctx, enrollment, code)
	if err != nil {
		return r.fail(err)
	}
	if !verified {
		// Code already consumed and durable credentials exist; keep them.
		return nil
	}

	r.setState(StatePersisting)
	id := identity.Identity{
		UUID:        enrollment.UUID,
		Fingerprint: r.keys.Fingerprint(),
		Satellite:   r.opts.Satellite,
		Address:     r.opts.Address,
	}
	if err := identity.Save(r.opts.CfgDir, id, password); err != nil {
		return r.fail(errors.Wrap(err, "persist credentials"))
	}

	r.mu.Lock()
	r.id, r.password, r.state = &id, password, StateRegistered
	r.mu.Unlock()
	r.log.WithField("uuid", id.UUID).Info("receiver registered and verified")
	return nil
}

func (r *Registrar) enroll(ctx context.Context) (registry.RegisterResponse, error) {
	r.setState(StateEnrolling)
	pubkey, err := r.keys.PublicKeyArmored()
	if err != nil {
		return registry.RegisterResponse{}, errors.Wrap(err, "export public key")
	}
	req := registry.RegisterRequest{
		Fingerprint: r.keys.Fingerprint(),
		PublicKey:   pubkey,
		Address:     r.opts.Address,
		Satellite:   r.opts.Satellite,
	}

	var resp registry.RegisterResponse
	err = r.withRetries(ctx, "register", func() error {
		var err error
		resp, err = r.client.Register(ctx, req)
		return err
	})
	if err != nil {
		return registry.RegisterResponse{}, err
	}
	if resp.UUID == "" || resp.Nonce == "" {
		return registry.RegisterResponse{}, errors.Wrap(ErrServerRejected, "empty enrollment response")
	}
	return resp, nil
}

// awaitCode polls the satellite inbox until a message decrypts to a code
// whose MAC matches the enrollment nonce. Duplicate or stale messages are
// discarded; the first match wins.
func (r *Registrar) awaitCode(ctx context.Context, nonce string) (string, error) {
	r.setState(StateAwaitingCode)
	r.log.Info("waiting for the verification code sent over satellite")

	waitCtx, cancel := context.WithTimeout(ctx, r.opts.CodeDeadline)
	defer cancel()

	for {
		ciphertext, err := r.inbox.Next(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if waitCtx.Err() != nil {
				return "", ErrTimeout
			}
			return "", errors.Wrap(err, "inbox")
		}

		plaintext, err := r.keys.Decrypt(ciphertext)
		if err != nil {
			r.log.WithError(err).Warn("discarding undecryptable inbox message")
			continue
		}
		var msg VerificationMessage
		if err := json.Unmarshal(plaintext, &msg); err != nil {
			r.log.WithError(err).Warn("discarding malformed inbox message")
			continue
		}
		if !msg.Valid(nonce) {
			r.log.Warn("discarding inbox message with mismatched MAC")
			continue
		}
		return msg.Code, nil
	}
}

// verify returns (password, true, nil) on a fresh verification, or
// ("", false, nil) when the code was already consumed but durable
// credentials exist.
func (r *Registrar) verify(ctx context.Context, enrollment registry.RegisterResponse, code string) (string, bool, error) {
	r.setState(StateVerifying)

	signed, err := r.keys.Sign([]byte(enrollment.Nonce + code))
	if err != nil {
		return "", false, errors.Wrap(err, "sign verification code")
	}
	req := registry.VerifyRequest{UUID: enrollment.UUID, SignedCode: signed}

	var resp registry.VerifyResponse
	err = r.withRetries(ctx, "verify", func() error {
		var err error
		resp, err = r.client.Verify(ctx, req)
		return err
	})
	if err != nil {
		if se, ok := registry.AsStatusError(err); ok && se.Code >= 400 && se.Code < 500 &&
			strings.Contains(strings.ToLower(se.Detail), "code already used") {
			if id, pwd, loadErr := identity.Load(r.opts.CfgDir); loadErr == nil && id != nil {
				r.mu.Lock()
				r.id, r.password, r.state = id, pwd, StateRegistered
				r.mu.Unlock()
				r.log.Info("code already consumed; durable credentials intact")
				return "", false, nil
			}
		}
		return "", false, err
	}
	if resp.Password == "" {
		return "", false, errors.Wrap(ErrServerRejected, "verify returned no password")
	}
	return resp.Password, true, nil
}

// withRetries runs call up to the retry budget, retrying on transport errors
// only. A registry status response is terminal.
func (r *Registrar) withRetries(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.opts.Retries; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if se, ok := registry.AsStatusError(err); ok {
			return errors.Wrapf(ErrServerRejected, "%s: %s", op, se.Error())
		}
		lastErr = err
		r.log.WithError(err).WithField("attempt", attempt).Warnf("%s transport error", op)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.RetryWait):
		}
	}
	return errors.Wrapf(lastErr, "%s: retries exhausted", op)
}
