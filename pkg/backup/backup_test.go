package backup

import (
	"context"
	"testing"

	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/transport/memory"
	"github.com/chainmesh/streams/pkg/user"
)

func newAuthorWithStream(t *testing.T) (*user.User, *memory.Transport) {
	t.Helper()
	id, err := identity.GenerateKeyPairIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	tr := memory.New()
	u := user.New(user.WithIdentity(id), user.WithTransport(tr), user.WithPSK([]byte("a shared secret")))
	if _, err := u.CreateStream(context.Background(), 1); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	return u, tr
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	u, tr := newAuthorWithStream(t)

	selfID, err := u.Identifier()
	if err != nil {
		t.Fatalf("identifier: %v", err)
	}

	blob, err := Backup(u, []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	restored, err := Restore(blob, []byte("correct horse battery staple"), tr)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	restoredID, err := restored.Identifier()
	if err != nil {
		t.Fatalf("restored identifier: %v", err)
	}
	if !restoredID.Equal(selfID) {
		t.Errorf("restored identifier = %s, want %s", restoredID, selfID)
	}

	origAddr, ok := u.StreamAddress()
	if !ok {
		t.Fatalf("original user has no stream address")
	}
	restoredAddr, ok := restored.StreamAddress()
	if !ok {
		t.Fatalf("restored user has no stream address")
	}
	if origAddr != restoredAddr {
		t.Errorf("restored stream address = %v, want %v", restoredAddr, origAddr)
	}
}

func TestBackupRestoreWrongPassword(t *testing.T) {
	u, tr := newAuthorWithStream(t)

	blob, err := Backup(u, []byte("right password"))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}

	if _, err := Restore(blob, []byte("wrong password"), tr); err == nil {
		t.Error("restoring with the wrong password should fail")
	}
}

func TestBackupRestorePreservesPSK(t *testing.T) {
	u, tr := newAuthorWithStream(t)

	pskID := identity.DerivePskID([]byte("a shared secret"))

	blob, err := Backup(u, []byte("hunter2"))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	restored, err := Restore(blob, []byte("hunter2"), tr)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	snapshot, err := restored.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	found := false
	for _, p := range snapshot.PSKs {
		if string(p.ID) == string(pskID) {
			found = true
		}
	}
	if !found {
		t.Error("restored user lost its pre-shared key")
	}
}

func TestBackupIsDeterministic(t *testing.T) {
	u, _ := newAuthorWithStream(t)

	a, err := Backup(u, []byte("same password"))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	b, err := Backup(u, []byte("same password"))
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("backup length changed between calls: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("backup output is not deterministic at byte %d", i)
		}
	}
}
