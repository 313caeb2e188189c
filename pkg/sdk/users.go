package sdk

import (
	"context"
	"fmt"
	"net/url"
)

const userCacheSize = 512

// ListUsers returns the user directory and refreshes the user cache with it.
func (c *ResourceClient) ListUsers(ctx context.Context, s *Session) ([]User, error) {
	var users []User
	if err := c.get(ctx, s, "list users", "/users.json", nil, &users); err != nil {
		c.logger.Error("Users could not be listed", c.logger.Args("error", err))
		return nil, err
	}
	for _, u := range users {
		c.users.Add(u.ID, u)
	}
	return users, nil
}

// User returns a single user, from the cache when it has been seen before.
func (c *ResourceClient) User(ctx context.Context, s *Session, id string) (User, error) {
	if u, ok := c.users.Get(id); ok {
		return u, nil
	}

	var users []User
	query := url.Values{"filter[has-id][]": {id}}
	if err := c.get(ctx, s, "get user", "/users.json", query, &users); err != nil {
		c.logger.Error("User could not be fetched", c.logger.Args("user_id", id, "error", err))
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}

	c.users.Add(id, users[0])
	return users[0], nil
}

// ResolveUserNames maps user ids to display names, skipping ids that cannot be
// resolved.
func (c *ResourceClient) ResolveUserNames(ctx context.Context, s *Session, ids ...string) map[string]string {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, done := names[id]; done {
			continue
		}
		u, err := c.User(ctx, s, id)
		if err != nil {
			continue
		}
		names[id] = u.DisplayName()
	}
	return names
}
