package eventbus

import (
	"context"
	"testing"
)

func TestPublishWithNilConnectionIsANoOp(t *testing.T) {
	if err := Publish(context.Background(), nil, SubjectRunCompleted, []byte(`{}`)); err != nil {
		t.Errorf("expected a nil connection to be a silent no-op, got %v", err)
	}
}
