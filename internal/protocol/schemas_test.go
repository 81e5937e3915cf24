package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"advtrack/internal/protocol"
)

func TestValidate_Samples(t *testing.T) {
	id := uuid.New()
	msgs := []any{
		protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ParticipantID: id, Name: "p1"},
		protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "S1", HostID: id},
		protocol.DesignationsMsg{Type: protocol.TypeDesignations, ProtocolVersion: protocol.Version, Full: true, Seq: 3,
			Entries: map[string]uuid.UUID{"adventure/adventuring_time": id}},
		protocol.DesignateMsg{Type: protocol.TypeDesignate, ProtocolVersion: protocol.Version, ObjectiveID: "O", ParticipantID: id},
		protocol.ContributionMsg{Type: protocol.TypeContribution, ProtocolVersion: protocol.Version,
			Contribution: json.RawMessage(`{"player_id":"` + id.String() + `","blocks_placed":["minecraft:stone"]}`)},
		protocol.NewError(protocol.ErrNotHost, "not hosting"),
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := protocol.Validate(b); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	bad := []string{
		`{"type":"HELLO","protocol_version":"1.0"}`,
		`{"type":"HELLO","protocol_version":"1.0","participant_id":"not-a-uuid"}`,
		`{"type":"DESIGNATE","protocol_version":"1.0","objective_id":"","participant_id":"` + uuid.NewString() + `"}`,
		`{"type":"CONTRIBUTION","protocol_version":"1.0","contribution":{"item_counts":{}}}`,
		`{"type":"NOPE"}`,
		`not json`,
	}
	for _, raw := range bad {
		if err := protocol.Validate([]byte(raw)); err == nil {
			t.Fatalf("expected rejection: %s", raw)
		}
	}
}
