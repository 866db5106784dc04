package service

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
	"github.com/taurusgroup/tssd/protocols/keygen"
	"github.com/taurusgroup/tssd/protocols/sign"
)

// ExampleEngines is the EngineFactory of the example protocols in protocols/keygen and protocols/sign.
type ExampleEngines struct{}

// NewKeygen implements EngineFactory.
func (ExampleEngines) NewKeygen(p KeygenParams) (round.Round, error) {
	return keygen.Start(keygen.Params{
		SessionID: p.SessionID,
		Shares:    p.Shares,
		Self:      p.Self,
		Threshold: p.Threshold,
		Behaviour: p.Behaviour,
	})
}

// KeygenDisputeRound implements EngineFactory.
func (ExampleEngines) KeygenDisputeRound() round.Number { return keygen.DisputeRound }

// NewSign implements EngineFactory.
func (ExampleEngines) NewSign(p SignParams) (round.Round, error) {
	return sign.Start(sign.Params{
		SessionID: p.SessionID,
		Shares:    p.Shares,
		Self:      p.Self,
		Threshold: p.Threshold,
		KeyShare:  p.KeyShare,
		Message:   p.Message,
	})
}

// SignDisputeRound implements EngineFactory.
func (ExampleEngines) SignDisputeRound() round.Number { return sign.DisputeRound }

// ValidateShare implements EngineFactory.
func (ExampleEngines) ValidateShare(share party.ShareIndex, data, publicKey []byte) error {
	result, err := keygen.UnmarshalResult(data)
	if err != nil {
		return err
	}
	if result.ShareIndex != share {
		return fmt.Errorf("recovered share has index %d", result.ShareIndex)
	}
	if !bytes.Equal(result.GroupKey(), publicKey) {
		return errors.New("recovered share belongs to another key")
	}
	return nil
}
