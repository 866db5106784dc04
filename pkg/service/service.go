// Package service runs the keygen, sign and recover sessions requested by the local client.
//
// A session reads protocol traffic from an inbound channel and writes MessageOut values to an outbound one.
// Every session ends with exactly one terminal MessageOut: a result, a NeedRecover notice or an Error.
package service

import (
	"context"
	"errors"

	"github.com/taurusgroup/tssd/internal/kv"
	"github.com/taurusgroup/tssd/internal/log"
	"github.com/taurusgroup/tssd/internal/metrics"
	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/malicious"
	"github.com/taurusgroup/tssd/pkg/party"
)

// KeygenParams are given to an EngineFactory to start keygen for one local share.
type KeygenParams struct {
	SessionID []byte
	Shares    *party.ShareMap
	Self      party.ShareIndex
	Threshold int
	Behaviour malicious.Behaviour
}

// SignParams are given to an EngineFactory to start signing for one local share.
type SignParams struct {
	SessionID []byte
	// Shares only contains the signers.
	Shares    *party.ShareMap
	Self      party.ShareIndex
	Threshold int
	// KeyShare is the stored output of keygen for this share.
	KeyShare []byte
	Message  []byte
}

// KeyShare is the output a keygen engine must produce.
type KeyShare interface {
	// GroupKey returns the public key of the group, identical for every share.
	GroupKey() []byte
	// MarshalBinary returns the opaque data stored for this share.
	MarshalBinary() ([]byte, error)
}

// EngineFactory creates the cryptographic engines driven by the service.
//
// A keygen engine must output a KeyShare, and a sign engine the signature as a []byte.
type EngineFactory interface {
	NewKeygen(p KeygenParams) (round.Round, error)
	// KeygenDisputeRound is the round of keygen in which point-to-point messages are dispute payloads.
	KeygenDisputeRound() round.Number
	NewSign(p SignParams) (round.Round, error)
	SignDisputeRound() round.Number
	// ValidateShare checks that data, recovered for the given share, belongs to the key publicKey.
	ValidateShare(share party.ShareIndex, data, publicKey []byte) error
}

// Config holds the process-wide settings of a Service.
type Config struct {
	// RecoverySeed is the secret used to seal and open the recovery info of keygen outputs.
	// It must be at least recovery.SeedSize bytes.
	RecoverySeed []byte
	// Behaviour is only different from malicious.Honest in tests.
	Behaviour malicious.Behaviour
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Service executes sessions against a key store. It is safe for concurrent use.
type Service struct {
	cfg     Config
	store   *kv.Store
	engines EngineFactory
	log     log.Logger
}

// New returns a Service that persists keys to store and uses engines for every session.
func New(cfg Config, store *kv.Store, engines EngineFactory, l log.Logger) *Service {
	if l == nil {
		l = log.DefaultLogger()
	}
	if !cfg.Behaviour.IsHonest() {
		l.Warnw("running with malicious behaviour", "behaviour", cfg.Behaviour.String())
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		engines: engines,
		log:     l.Named("service"),
	}
}

// terminate sends the terminal message of a session, giving up if ctx is done.
func terminate(ctx context.Context, out chan<- *MessageOut, msg *MessageOut) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}

// fail reports err to the client as the terminal message and returns it.
func fail(ctx context.Context, out chan<- *MessageOut, err error) error {
	terminate(ctx, out, &MessageOut{Error: err.Error()})
	return err
}

// ErrKeyConflict is wrapped by the error returned when a keygen or recover targets a key uid
// that is stored or being generated. The client may retry with another uid.
var ErrKeyConflict = errors.New("service: key uid unavailable")

func isConflict(err error) bool {
	return errors.Is(err, kv.ErrAlreadyReserved) || errors.Is(err, kv.ErrAlreadyExists)
}
