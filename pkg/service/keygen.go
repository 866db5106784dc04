package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/taurusgroup/tssd/internal/kv"
	"github.com/taurusgroup/tssd/internal/metrics"
	"github.com/taurusgroup/tssd/internal/recovery"
	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
	"github.com/taurusgroup/tssd/pkg/protocol"
)

// Keygen runs a keygen session for req, reading protocol traffic from in and writing to out.
//
// The key uid is reserved before the protocol starts; it is committed only if the protocol succeeds.
// The returned error is nil when the session ended with a KeygenResult, including one listing criminals.
func (s *Service) Keygen(ctx context.Context, req *KeygenInit, in <-chan *protocol.TrafficIn, out chan<- *MessageOut) error {
	end := s.cfg.Metrics.SessionStarted(metrics.KindKeygen)
	sanitized, err := sanitizeKeygenInit(req)
	if err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, err)
	}

	shares, err := party.NewShareMap(sanitized.partyUIDs, sanitized.shareCounts)
	if err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, fmt.Errorf("%w: %v", ErrInvalidInit, err))
	}
	sess, err := s.newSession(metrics.KindKeygen, sanitized.keyUID, []byte(sanitized.keyUID), shares,
		sanitized.myUID(), s.engines.KeygenDisputeRound())
	if err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, err)
	}

	reservation, err := s.store.Reserve(ctx, sanitized.keyUID)
	if err != nil {
		end(metrics.OutcomeError)
		if isConflict(err) {
			sess.log.Warnw("key uid unavailable", "err", err)
			return fail(ctx, out, fmt.Errorf("%w: %v", ErrKeyConflict, err))
		}
		return fail(ctx, out, err)
	}
	committed := false
	defer func() {
		if !committed {
			s.store.Unreserve(reservation)
		}
	}()

	firsts := make([]round.Round, len(sess.locals))
	for i, share := range sess.locals {
		firsts[i], err = s.engines.NewKeygen(KeygenParams{
			SessionID: sess.ssid,
			Shares:    shares,
			Self:      share,
			Threshold: sanitized.threshold,
			Behaviour: s.cfg.Behaviour,
		})
		if err != nil {
			end(metrics.OutcomeError)
			return fail(ctx, out, fmt.Errorf("service: start keygen: %w", err))
		}
	}

	sess.log.Infow("keygen started", "parties", shares.N(), "shares", shares.Total(),
		"threshold", sanitized.threshold, "local_shares", len(sess.locals))
	o, err := sess.execute(ctx, firsts, in, out)
	if err != nil {
		sess.log.Warnw("keygen failed", "err", err)
		end(outcomeOf(err))
		return fail(ctx, out, err)
	}
	s.cfg.Metrics.RoundsCompleted(metrics.KindKeygen, o.rounds)

	if o.faults != nil {
		criminals, err := protocol.Accuse(o.faults, shares)
		if err != nil {
			end(metrics.OutcomeError)
			return fail(ctx, out, err)
		}
		sess.log.Warnw("keygen faulted", "criminals", len(criminals))
		end(metrics.OutcomeFaulted)
		terminate(ctx, out, &MessageOut{KeygenResult: &KeygenResult{Criminals: criminals}})
		return nil
	}

	record, output, err := s.keygenRecord(sanitized, sess.locals, o.outputs)
	if err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, err)
	}
	if err = s.store.Put(ctx, reservation, record); err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, err)
	}
	committed = true

	sess.log.Infow("keygen completed")
	end(metrics.OutcomeSuccess)
	terminate(ctx, out, &MessageOut{KeygenResult: &KeygenResult{Data: output}})
	return nil
}

// keygenRecord builds the stored record and the client output from the outputs of the local shares.
func (s *Service) keygenRecord(ki *keygenInit, locals []party.ShareIndex, outputs []interface{}) (*kv.Record, *KeygenOutput, error) {
	record := &kv.Record{
		Shares:      make([][]byte, len(outputs)),
		PartyUIDs:   party.IDSlice(ki.partyUIDs).Strings(),
		ShareCounts: ki.shareCounts,
		MyIndex:     uint32(ki.myIndex),
		Threshold:   uint32(ki.threshold),
	}
	output := &KeygenOutput{RecoveryInfo: make([][]byte, len(outputs))}

	for i, o := range outputs {
		share, ok := o.(KeyShare)
		if !ok {
			return nil, nil, fmt.Errorf("service: keygen engine returned %T", o)
		}
		if i == 0 {
			record.PublicKey = share.GroupKey()
		} else if !bytes.Equal(record.PublicKey, share.GroupKey()) {
			return nil, nil, errors.New("service: local shares disagree on the group key")
		}
		data, err := share.MarshalBinary()
		if err != nil {
			return nil, nil, fmt.Errorf("service: encode share: %w", err)
		}
		record.Shares[i] = data
		if output.RecoveryInfo[i], err = recovery.Seal(s.cfg.RecoverySeed, ki.keyUID, locals[i], data); err != nil {
			return nil, nil, err
		}
	}
	output.PublicKey = record.PublicKey
	return record, output, nil
}

func outcomeOf(err error) string {
	if errors.Is(err, protocol.ErrAborted) {
		return metrics.OutcomeAborted
	}
	return metrics.OutcomeError
}
