// Package dauth implements the client-side orchestration of the threshold
// authentication protocol: sign-up, login, password change and recovery.
// Every flow follows the same choreography: blind a password into a group
// element, fan it out to all custodian nodes in parallel, and combine the
// partial results. Flows differ only in which node operation runs and how the
// partials are folded. The orchestrator holds derived keys and share
// material only for the duration of one flow invocation.
package dauth

import (
	"context"

	"go.dedis.ch/kyber/v3"

	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/registry"
	"github.com/ruteri/custodian-auth-backend/trantoken"
)

// NodeClient is the orchestrator's view of one custodian node. The
// in-process service implements it directly; the HTTP client implements it
// over the node's API.
type NodeClient interface {
	// Info returns the node's directory entry.
	Info() interfaces.NodeInfo

	GetRandom(ctx context.Context, req *custodian.RandomRequest) (*custodian.RandomResponse, error)
	AddRandom(ctx context.Context, req *custodian.AddRandomRequest) (*custodian.AddRandomResponse, error)
	SignEntry(ctx context.Context, req *custodian.SignEntryRequest) (kyber.Scalar, error)
	Confirm(ctx context.Context, user interfaces.UserID) error

	ApplyShare(ctx context.Context, user interfaces.UserID, blinded kyber.Point, lagrange kyber.Scalar) (*custodian.ApplyShareResponse, error)
	Authenticate(ctx context.Context, user interfaces.UserID, point kyber.Point, token *trantoken.Token, lagrange kyber.Scalar) (*custodian.AuthenticateResult, error)

	ChangeShare(ctx context.Context, req *custodian.ChangeShareRequest) error
	Recover(ctx context.Context, user interfaces.UserID) error
	MarkStale(ctx context.Context, user interfaces.UserID, token *trantoken.Token) error
}

// EntryRegistrar accepts completed registration entries. The registry
// service implements it directly; remote callers go through its API client.
type EntryRegistrar interface {
	Add(ctx context.Context, entry *registry.Entry) error
}
