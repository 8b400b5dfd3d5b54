package shared

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewPage(t *testing.T) {
	require.Equal(t, Page{Limit: 50, Offset: 0}, NewPage(0, -4, 50, 200))
	require.Equal(t, Page{Limit: 200, Offset: 10}, NewPage(1000, 10, 50, 200))
	require.Equal(t, Page{Limit: 7, Offset: 3}, NewPage(7, 3, 50, 200))
}

func TestValidateApproval(t *testing.T) {
	ok := ApprovalLog{Module: "propagation", RefID: uuid.New(), ActorID: uuid.New(), Action: ApprovalApprove}
	require.NoError(t, validateApproval(ok))

	missingActor := ok
	missingActor.ActorID = uuid.Nil
	require.ErrorIs(t, validateApproval(missingActor), ErrValidation)

	missingAction := ok
	missingAction.Action = ""
	require.Error(t, validateApproval(missingAction))
}

func TestPropagationLockKey(t *testing.T) {
	id := uuid.MustParse("6f1c2a7e-9a0b-4c7e-8a41-2b8e3d1f0c55")
	require.Equal(t, "propagation:record:6f1c2a7e-9a0b-4c7e-8a41-2b8e3d1f0c55:lock", PropagationLockKey(id))
}

func TestAuditLogValidate(t *testing.T) {
	entry := AuditLog{ActorID: uuid.New(), Action: "SITE_CREATE", Entity: "agent_sites", EntityID: uuid.NewString()}
	require.NoError(t, entry.validate())

	entry.Entity = ""
	require.ErrorIs(t, entry.validate(), ErrValidation)

	require.ErrorIs(t, AuditLog{Action: "X", Entity: "y", EntityID: "z"}.validate(), ErrValidation)
}
