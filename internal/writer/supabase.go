package writer

import (
	"context"

	"github.com/fleetworks/invoicebot/internal/intake"
)

// RowUpserter is the slice of the Supabase client the strategy needs.
type RowUpserter interface {
	UpsertEntry(ctx context.Context, e intake.Entry) error
}

// SupabaseStrategy writes entries as merge-on-msg_key REST upserts.
type SupabaseStrategy struct {
	Client RowUpserter
}

func (s SupabaseStrategy) Name() string { return "supabase" }

func (s SupabaseStrategy) Write(ctx context.Context, e intake.Entry) error {
	return s.Client.UpsertEntry(ctx, e)
}
