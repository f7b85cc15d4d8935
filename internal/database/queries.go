package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	selectServerColumns  = "SELECT id, name, visibility, lobby_id, COALESCE(reception_lobby_id, ''), owner_id, created_at, updated_at FROM servers "
	selectChannelColumns = "SELECT id, server_id, name, visibility, COALESCE(password_hash, ''), is_lobby, created_at, updated_at FROM channels "
	selectMemberColumns  = "SELECT user_id, server_id, nickname, permission_level, is_blocked, created_at, updated_at FROM members "
)

// nullString stores the empty string as NULL so optional ids round trip
// through the nullable columns.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (Server, error) {
	var s Server
	err := row.Scan(
		&s.Id,
		&s.Name,
		&s.Visibility,
		&s.LobbyId,
		&s.ReceptionLobbyId,
		&s.OwnerId,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

func scanChannel(row rowScanner) (Channel, error) {
	var c Channel
	err := row.Scan(
		&c.Id,
		&c.ServerId,
		&c.Name,
		&c.Visibility,
		&c.PasswordHash,
		&c.IsLobby,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func scanMember(row rowScanner) (Member, error) {
	var m Member
	err := row.Scan(
		&m.UserId,
		&m.ServerId,
		&m.Nickname,
		&m.PermissionLevel,
		&m.IsBlocked,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func (db *PgGoVoiceChatRepository) GetUser(ctx context.Context, userId string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, COALESCE(current_server_id, ''), COALESCE(current_channel_id, ''), "+
			"last_active_at, created_at, updated_at FROM users WHERE id = $1 LIMIT 1",
		userId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.CurrentServerId,
		&u.CurrentChannelId,
		&u.LastActiveAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgGoVoiceChatRepository) UpdateUserLocation(ctx context.Context, params UpdateLocationParams) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE users SET current_server_id = $2, current_channel_id = $3, last_active_at = $4, updated_at = $5 "+
			"WHERE id = $1",
		params.UserId,
		nullString(params.CurrentServerId),
		nullString(params.CurrentChannelId),
		params.LastActiveAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update user location: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgGoVoiceChatRepository) GetServer(ctx context.Context, serverId string) (Server, error) {
	row := db.conn.QueryRowContext(ctx, selectServerColumns+"WHERE id = $1 LIMIT 1", serverId)
	return scanServer(row)
}

func (db *PgGoVoiceChatRepository) UpdateServer(ctx context.Context, params UpdateServerParams) (Server, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE servers SET name = $2, visibility = $3, lobby_id = $4, reception_lobby_id = $5, updated_at = $6 "+
			"WHERE id = $1 RETURNING id, name, visibility, lobby_id, COALESCE(reception_lobby_id, ''), owner_id, created_at, updated_at",
		params.ServerId,
		params.Name,
		params.Visibility,
		params.LobbyId,
		nullString(params.ReceptionLobbyId),
		time.Now().UTC(),
	)

	return scanServer(row)
}

func (db *PgGoVoiceChatRepository) GetChannel(ctx context.Context, channelId string) (Channel, error) {
	row := db.conn.QueryRowContext(ctx, selectChannelColumns+"WHERE id = $1 LIMIT 1", channelId)
	return scanChannel(row)
}

func (db *PgGoVoiceChatRepository) ListServerChannels(ctx context.Context, serverId string) ([]Channel, error) {
	rows, err := db.conn.QueryContext(ctx, selectChannelColumns+"WHERE server_id = $1 ORDER BY created_at", serverId)
	if err != nil {
		return nil, fmt.Errorf("list server channels: %w", err)
	}
	defer rows.Close()

	channels := make([]Channel, 0)
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		channels = append(channels, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return channels, nil
}

func (db *PgGoVoiceChatRepository) GetMember(ctx context.Context, userId, serverId string) (Member, error) {
	row := db.conn.QueryRowContext(ctx,
		selectMemberColumns+"WHERE user_id = $1 AND server_id = $2 LIMIT 1",
		userId,
		serverId,
	)
	return scanMember(row)
}

func (db *PgGoVoiceChatRepository) CreateMember(ctx context.Context, params CreateMemberParams) (Member, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO members (user_id, server_id, permission_level, is_blocked, created_at, updated_at) "+
			"VALUES ($1, $2, $3, 0, $4, $4) "+
			"ON CONFLICT (user_id, server_id) DO UPDATE SET updated_at = EXCLUDED.updated_at "+
			"RETURNING user_id, server_id, nickname, permission_level, is_blocked, created_at, updated_at",
		params.UserId,
		params.ServerId,
		params.PermissionLevel,
		now,
	)
	return scanMember(row)
}

func (db *PgGoVoiceChatRepository) UpdateMember(ctx context.Context, params UpdateMemberParams) (Member, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE members SET nickname = $3, permission_level = $4, is_blocked = $5, updated_at = $6 "+
			"WHERE user_id = $1 AND server_id = $2 "+
			"RETURNING user_id, server_id, nickname, permission_level, is_blocked, created_at, updated_at",
		params.UserId,
		params.ServerId,
		params.Nickname,
		params.PermissionLevel,
		params.IsBlocked,
		time.Now().UTC(),
	)
	return scanMember(row)
}

func (db *PgGoVoiceChatRepository) ListOnlineMembers(ctx context.Context, serverId string) ([]OnlineMember, error) {
	query := `
		SELECT
				u.id,
				u.username,
				COALESCE(m.nickname, ''),
				COALESCE(m.permission_level, 0),
				COALESCE(u.current_channel_id, '')
		FROM users u
		LEFT JOIN members m ON m.user_id = u.id AND m.server_id = u.current_server_id
		WHERE u.current_server_id = $1
		ORDER BY u.username;
`

	rows, err := db.conn.QueryContext(ctx, query, serverId)
	if err != nil {
		return nil, fmt.Errorf("list online members: %w", err)
	}
	defer rows.Close()

	members := make([]OnlineMember, 0)
	for rows.Next() {
		var m OnlineMember
		if err := rows.Scan(
			&m.UserId,
			&m.Username,
			&m.Nickname,
			&m.PermissionLevel,
			&m.CurrentChannelId,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return members, nil
}

func (db *PgGoVoiceChatRepository) UpsertUserServer(ctx context.Context, params UserServerParams) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO user_servers (user_id, server_id, recent, timestamp) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (user_id, server_id) DO UPDATE SET recent = EXCLUDED.recent, timestamp = EXCLUDED.timestamp",
		params.UserId,
		params.ServerId,
		params.Recent,
		params.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert user server: %w", err)
	}

	return nil
}
