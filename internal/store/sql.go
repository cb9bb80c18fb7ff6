package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/pulse/pkg/models"
)

// sqlNotificationStore implements NotificationStore over database/sql.
// Shared by the sqlite and postgres drivers via dialect rebinding.
type sqlNotificationStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

func (s *sqlNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n == nil || n.UserID == "" {
		return fmt.Errorf("notification user id is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO notifications (id, user_id, type, title, message, data, channel, created_at, read_at, sent_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`),
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, string(data),
		string(n.Channel), n.CreatedAt, nullTime(n.ReadAt), nullTime(n.SentAt),
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

const notificationColumns = `id, user_id, type, title, message, data, channel, created_at, read_at, sent_at`

func scanNotification(row interface{ Scan(...any) error }) (*models.Notification, error) {
	var n models.Notification
	var nType, channel, data string
	var readAt, sentAt sql.NullTime
	if err := row.Scan(
		&n.ID, &n.UserID, &nType, &n.Title, &n.Message, &data,
		&channel, &n.CreatedAt, &readAt, &sentAt,
	); err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(nType)
	n.Channel = models.Channel(channel)
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if data != "" && data != "null" {
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal notification data: %w", err)
		}
	}
	return &n, nil
}

func (s *sqlNotificationStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`), id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *sqlNotificationStore) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]*models.Notification, int, error) {
	filter := ` WHERE user_id = ?`
	if opts.UnreadOnly {
		filter += ` AND read_at IS NULL`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT count(*) FROM notifications`+filter), userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT `+notificationColumns+` FROM notifications`+filter+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return out, total, nil
}

func (s *sqlNotificationStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT count(*) FROM notifications WHERE user_id = ? AND read_at IS NULL`), userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

func (s *sqlNotificationStore) MarkRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL`),
		s.now(), id, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if affected > 0 {
		return nil
	}
	// Either already read (no-op) or missing/foreign (not found).
	var owner string
	err = s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT user_id FROM notifications WHERE id = ?`), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *sqlNotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE notifications SET read_at = ? WHERE user_id = ? AND read_at IS NULL`),
		s.now(), userID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func (s *sqlNotificationStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE notifications SET sent_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlNotificationStore) Delete(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`DELETE FROM notifications WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlNotificationStore) DeleteRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`DELETE FROM notifications WHERE user_id = ? AND read_at IS NOT NULL`), userID)
	if err != nil {
		return fmt.Errorf("delete read notifications: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// sqlDirectory implements Directory over database/sql.
type sqlDirectory struct {
	db *sql.DB
	d  dialect
}

const userColumns = `id, name, email, role, location_id, email_opt_in, active`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.LocationID, &u.EmailOptIn, &u.Active); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (s *sqlDirectory) GetUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *sqlDirectory) UsersByRole(ctx context.Context, role models.Role, locationID string) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE active AND role = ?`
	args := []any{string(role)}
	if locationID != "" {
		query += ` AND location_id = ?`
		args = append(args, locationID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("users by role: %w", err)
	}
	defer rows.Close()

	out := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users by role: %w", err)
	}
	return out, nil
}

// sqlCaseStore implements CaseStore over database/sql.
type sqlCaseStore struct {
	db *sql.DB
	d  dialect
}

const caseColumns = `id, title, status, priority, created_by, assigned_to, location_id, created_at, aging_status, sla_breach, overdue_notified_at`

func scanCase(row interface{ Scan(...any) error }) (*models.Case, error) {
	var c models.Case
	var priority, aging string
	var notified sql.NullTime
	if err := row.Scan(
		&c.ID, &c.Title, &c.Status, &priority, &c.CreatedBy, &c.AssignedTo,
		&c.LocationID, &c.CreatedAt, &aging, &c.SLABreach, &notified,
	); err != nil {
		return nil, err
	}
	c.Priority = models.Priority(priority)
	c.AgingStatus = models.AgingStatus(aging)
	if notified.Valid {
		t := notified.Time
		c.OverdueNotifiedAt = &t
	}
	return &c, nil
}

const openStatusFilter = ` AND status NOT IN ('closed','cancelled','resolved')`

func (s *sqlCaseStore) Get(ctx context.Context, id string) (*models.Case, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT `+caseColumns+` FROM cases WHERE id = ?`), id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (s *sqlCaseStore) queryCases(ctx context.Context, query string, args ...any) ([]*models.Case, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlCaseStore) ListOpen(ctx context.Context) ([]*models.Case, error) {
	cases, err := s.queryCases(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE 1=1`+openStatusFilter+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list open cases: %w", err)
	}
	return cases, nil
}

func (s *sqlCaseStore) UpdateAging(ctx context.Context, id string, aging models.AgingStatus, slaBreach bool) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE cases SET aging_status = ?, sla_breach = ? WHERE id = ?`),
		string(aging), slaBreach, id)
	if err != nil {
		return fmt.Errorf("update aging: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlCaseStore) ListOverdueUnnotified(ctx context.Context) ([]*models.Case, error) {
	cases, err := s.queryCases(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE sla_breach AND overdue_notified_at IS NULL`+
			openStatusFilter+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list overdue cases: %w", err)
	}
	return cases, nil
}

func (s *sqlCaseStore) MarkOverdueNotified(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE cases SET overdue_notified_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return fmt.Errorf("mark overdue notified: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// sqlTicketStore implements TicketStore over database/sql.
type sqlTicketStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

const ticketColumns = `id, title, status, priority, created_by, assigned_to, location_id, created_at, aging_status, sla_breach, warranty_expiry, warranty_band_notified`

func scanTicket(row interface{ Scan(...any) error }) (*models.Ticket, error) {
	var t models.Ticket
	var priority, aging string
	var expiry sql.NullTime
	if err := row.Scan(
		&t.ID, &t.Title, &t.Status, &priority, &t.CreatedBy, &t.AssignedTo,
		&t.LocationID, &t.CreatedAt, &aging, &t.SLABreach, &expiry, &t.WarrantyBandNotified,
	); err != nil {
		return nil, err
	}
	t.Priority = models.Priority(priority)
	t.AgingStatus = models.AgingStatus(aging)
	if expiry.Valid {
		e := expiry.Time
		t.WarrantyExpiry = &e
	}
	return &t, nil
}

func (s *sqlTicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *sqlTicketStore) ListWarrantyExpiringWithin(ctx context.Context, days int) ([]*models.Ticket, error) {
	now := s.now()
	cutoff := now.Add(time.Duration(days) * 24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE warranty_expiry IS NOT NULL AND warranty_expiry >= ? AND warranty_expiry <= ?
		 AND status NOT IN ('closed','cancelled','resolved','delivered') ORDER BY id`),
		now, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring tickets: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expiring tickets: %w", err)
	}
	return out, nil
}

func (s *sqlTicketStore) SetWarrantyBandNotified(ctx context.Context, id string, band int) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE tickets SET warranty_band_notified = ? WHERE id = ?`), band, id)
	if err != nil {
		return fmt.Errorf("set warranty band: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// sqlStockStore implements StockStore over database/sql.
type sqlStockStore struct {
	db *sql.DB
	d  dialect
}

const stockColumns = `id, name, location_id, quantity, reorder_level, low_notified_at`

func scanStockItem(row interface{ Scan(...any) error }) (*models.StockItem, error) {
	var item models.StockItem
	var notified sql.NullTime
	if err := row.Scan(&item.ID, &item.Name, &item.LocationID, &item.Quantity, &item.ReorderLevel, &notified); err != nil {
		return nil, err
	}
	if notified.Valid {
		t := notified.Time
		item.LowNotifiedAt = &t
	}
	return &item, nil
}

func (s *sqlStockStore) Get(ctx context.Context, id string) (*models.StockItem, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT `+stockColumns+` FROM stock_items WHERE id = ?`), id)
	item, err := scanStockItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stock item: %w", err)
	}
	return item, nil
}

func (s *sqlStockStore) ListBelowReorder(ctx context.Context) ([]*models.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT `+stockColumns+` FROM stock_items WHERE quantity <= reorder_level ORDER BY id`))
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()
	out := make([]*models.StockItem, 0)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	return out, nil
}

func (s *sqlStockStore) MarkLowNotified(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE stock_items SET low_notified_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return fmt.Errorf("mark low notified: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}
