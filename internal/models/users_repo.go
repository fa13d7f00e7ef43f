package models

import (
	"context"
	"encoding/json"
	"fmt"
)

const ProfilesTable = "profiles"

// UsersRepo resolves user ids to deliverable addresses. Profiles live in
// Supabase; a user without a profile row is simply absent from the result so
// callers can treat it as a per-recipient soft failure.
type UsersRepo interface {
	GetEmails(ctx context.Context, userIDs []string) (map[string]string, error)
}

func (su *SupabaseRepo) GetEmails(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}

	type profileRow struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	data, _, err := su.supabaseClient.
		From(ProfilesTable).
		Select("id,email", "exact", false).
		In("id", userIDs).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profiles: %v", err)
	}

	var rows []profileRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profiles: %v", err)
	}

	emails := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Email == "" {
			continue
		}
		emails[row.ID] = row.Email
	}
	return emails, nil
}
