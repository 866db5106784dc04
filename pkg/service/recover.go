package service

import (
	"context"
	"fmt"

	"github.com/taurusgroup/tssd/internal/kv"
	"github.com/taurusgroup/tssd/internal/metrics"
	"github.com/taurusgroup/tssd/internal/recovery"
	"github.com/taurusgroup/tssd/pkg/party"
)

// Recover rebuilds the record of a key from the init and the output of its keygen.
// It does nothing if the key is already stored.
func (s *Service) Recover(ctx context.Context, req *RecoverRequest) (err error) {
	end := s.cfg.Metrics.SessionStarted(metrics.KindRecover)
	defer func() {
		if err != nil {
			end(metrics.OutcomeError)
		} else {
			end(metrics.OutcomeSuccess)
		}
	}()

	if req == nil {
		return invalid("missing recover request")
	}
	ki, err := sanitizeKeygenInit(&req.KeygenInit)
	if err != nil {
		return err
	}
	l := s.log.With("key", ki.keyUID)

	exists, err := s.store.Exists(ctx, ki.keyUID)
	if err != nil {
		return err
	}
	if exists {
		l.Warnw("key already stored, nothing to recover")
		return nil
	}

	shares, err := party.NewShareMap(ki.partyUIDs, ki.shareCounts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInit, err)
	}
	locals, err := shares.SharesOf(ki.myUID())
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	blobs := req.KeygenOutput.RecoveryInfo
	if len(blobs) != len(locals) {
		return fmt.Errorf("service: got %d recovery blobs for %d shares", len(blobs), len(locals))
	}

	record := &kv.Record{
		Shares:      make([][]byte, len(locals)),
		PartyUIDs:   party.IDSlice(ki.partyUIDs).Strings(),
		ShareCounts: ki.shareCounts,
		MyIndex:     uint32(ki.myIndex),
		Threshold:   uint32(ki.threshold),
		PublicKey:   req.KeygenOutput.PublicKey,
	}
	for i, share := range locals {
		data, err := recovery.Open(s.cfg.RecoverySeed, ki.keyUID, share, blobs[i])
		if err != nil {
			return fmt.Errorf("service: share %d: %w", share, err)
		}
		if err = s.engines.ValidateShare(share, data, req.KeygenOutput.PublicKey); err != nil {
			return fmt.Errorf("service: share %d: %w", share, err)
		}
		record.Shares[i] = data
	}

	reservation, err := s.store.Reserve(ctx, ki.keyUID)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: %v", ErrKeyConflict, err)
		}
		return err
	}
	if err = s.store.Put(ctx, reservation, record); err != nil {
		s.store.Unreserve(reservation)
		return err
	}
	l.Infow("key recovered", "shares", len(locals))
	return nil
}

// KeyPresence reports whether a record is stored for keyUID.
// Any storage failure is reported as PresenceFail along with the error.
func (s *Service) KeyPresence(ctx context.Context, keyUID string) (Presence, error) {
	exists, err := s.store.Exists(ctx, keyUID)
	if err != nil {
		s.log.Errorw("key presence check failed", "key", keyUID, "err", err)
		return PresenceFail, err
	}
	if exists {
		return Present, nil
	}
	return Absent, nil
}

// Keys returns the uids of the stored keys in lexicographic order.
func (s *Service) Keys(ctx context.Context) ([]string, error) {
	return s.store.Keys(ctx)
}
