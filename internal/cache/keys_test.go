package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		refs []domain.EntityRef
		want []string
	}{
		{
			name: "item",
			refs: []domain.EntityRef{{Kind: domain.KindItem, ID: "i1", Category: "Renewal"}},
			want: []string{"item:i1", "queue:length:renewal", "queue:order"},
		},
		{
			name: "worker",
			refs: []domain.EntityRef{domain.WorkerRef("w1")},
			want: []string{"queue:order", "worker:w1", "workers:available"},
		},
		{
			name: "assignment touches both, shared keys once",
			refs: []domain.EntityRef{
				{Kind: domain.KindItem, ID: "i1", Category: "emergency"},
				domain.WorkerRef("w1"),
			},
			want: []string{"item:i1", "queue:length:emergency", "queue:order", "worker:w1", "workers:available"},
		},
		{
			name: "none",
			refs: nil,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keys(tt.refs))
		})
	}
}
