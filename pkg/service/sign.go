package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/taurusgroup/tssd/internal/kv"
	"github.com/taurusgroup/tssd/internal/metrics"
	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
	"github.com/taurusgroup/tssd/pkg/protocol"
)

// Sign runs a signing session for req with the stored shares of req.KeyUID.
//
// When the key is not stored, the session ends with a NeedRecover message and no error,
// so that the client can call Recover and retry.
func (s *Service) Sign(ctx context.Context, req *SignInit, in <-chan *protocol.TrafficIn, out chan<- *MessageOut) error {
	end := s.cfg.Metrics.SessionStarted(metrics.KindSign)
	if req == nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, invalid("missing sign init"))
	}

	record, err := s.store.Get(ctx, req.KeyUID)
	if errors.Is(err, kv.ErrNotFound) {
		s.log.Infow("key not found, requesting recovery", "key", req.KeyUID, "uid", req.NewSigUID)
		end(metrics.OutcomeError)
		terminate(ctx, out, &MessageOut{NeedRecover: true})
		return nil
	}
	if err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, err)
	}

	sanitized, err := sanitizeSignInit(req, record.PartyUIDs, record.ShareCounts, record.MyIndex)
	if err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, err)
	}
	shares, err := party.NewShareMap(sanitized.signerUIDs, sanitized.shareCounts)
	if err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, fmt.Errorf("%w: %v", ErrInvalidInit, err))
	}
	sess, err := s.newSession(metrics.KindSign, sanitized.sigUID, []byte(sanitized.sigUID), shares,
		sanitized.myUID, s.engines.SignDisputeRound())
	if err != nil {
		end(metrics.OutcomeError)
		return fail(ctx, out, err)
	}
	if len(sess.locals) != len(record.Shares) {
		end(metrics.OutcomeError)
		return fail(ctx, out, fmt.Errorf("service: record of key %q holds %d shares, expected %d",
			sanitized.keyUID, len(record.Shares), len(sess.locals)))
	}

	firsts := make([]round.Round, len(sess.locals))
	for i, share := range sess.locals {
		firsts[i], err = s.engines.NewSign(SignParams{
			SessionID: sess.ssid,
			Shares:    shares,
			Self:      share,
			Threshold: int(record.Threshold),
			KeyShare:  record.Shares[i],
			Message:   sanitized.message,
		})
		if err != nil {
			end(metrics.OutcomeError)
			return fail(ctx, out, fmt.Errorf("service: start sign: %w", err))
		}
	}

	sess.log.Infow("sign started", "key", sanitized.keyUID, "signers", shares.N(), "shares", shares.Total())
	o, err := sess.execute(ctx, firsts, in, out)
	if err != nil {
		sess.log.Warnw("sign failed", "err", err)
		end(outcomeOf(err))
		return fail(ctx, out, err)
	}
	s.cfg.Metrics.RoundsCompleted(metrics.KindSign, o.rounds)

	if o.faults != nil {
		criminals, err := protocol.Accuse(o.faults, shares)
		if err != nil {
			end(metrics.OutcomeError)
			return fail(ctx, out, err)
		}
		sess.log.Warnw("sign faulted", "criminals", len(criminals))
		end(metrics.OutcomeFaulted)
		terminate(ctx, out, &MessageOut{SignResult: &SignResult{Criminals: criminals}})
		return nil
	}

	signature, ok := o.outputs[0].([]byte)
	if !ok {
		end(metrics.OutcomeError)
		return fail(ctx, out, fmt.Errorf("service: sign engine returned %T", o.outputs[0]))
	}
	sess.log.Infow("sign completed")
	end(metrics.OutcomeSuccess)
	terminate(ctx, out, &MessageOut{SignResult: &SignResult{Signature: signature}})
	return nil
}
