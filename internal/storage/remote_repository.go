package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// RemoteRepository is the Postgres-backed remote store. Rows are upserted by id;
// the seq column keeps the local creation order for LoadSnapshot.
type RemoteRepository struct {
	db *PostgresDB
}

// NewRemoteRepository creates a new remote repository
func NewRemoteRepository(db *PostgresDB) *RemoteRepository {
	return &RemoteRepository{db: db}
}

// tsFrom converts a nullable column into a Timestamp
func tsFrom(t *time.Time) models.Timestamp {
	if t == nil {
		return models.Timestamp{}
	}
	return models.NewTimestamp(*t)
}

// UpsertUser inserts or replaces a user
func (r *RemoteRepository) UpsertUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (
			id, email, password_hash, name, role,
			balance_usd, capital_invested_usd, monthly_profit_usd, daily_withdrawable_usd, bonus_balance_usd,
			rank, plan, status, referral_code, referred_by_id,
			joined_date, last_profit_update, last_plan_change_date, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			balance_usd = EXCLUDED.balance_usd,
			capital_invested_usd = EXCLUDED.capital_invested_usd,
			monthly_profit_usd = EXCLUDED.monthly_profit_usd,
			daily_withdrawable_usd = EXCLUDED.daily_withdrawable_usd,
			bonus_balance_usd = EXCLUDED.bonus_balance_usd,
			rank = EXCLUDED.rank,
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			referral_code = EXCLUDED.referral_code,
			referred_by_id = EXCLUDED.referred_by_id,
			joined_date = EXCLUDED.joined_date,
			last_profit_update = EXCLUDED.last_profit_update,
			last_plan_change_date = EXCLUDED.last_plan_change_date,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.Name, string(u.Role),
		u.BalanceUSD, u.CapitalInvestedUSD, u.MonthlyProfitUSD, u.DailyWithdrawableUSD, u.BonusBalanceUSD,
		string(u.Rank), u.Plan, string(u.Status), u.ReferralCode, nullString(u.ReferredByID),
		u.JoinedDate.Ptr(), u.LastProfitUpdate.Ptr(), u.LastPlanChangeDate.Ptr(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

// UpsertTransaction inserts or replaces a transaction
func (r *RemoteRepository) UpsertTransaction(ctx context.Context, t *models.Transaction) error {
	var details []byte
	if t.WithdrawalDetails != nil {
		b, err := json.Marshal(t.WithdrawalDetails)
		if err != nil {
			return fmt.Errorf("failed to marshal withdrawal details: %w", err)
		}
		details = b
	}

	query := `
		INSERT INTO transactions (
			id, user_id, type, amount_usd, amount_brl, status, date, created_at,
			referral_level, source_user_id, bonus_payout_handled, withdrawal_details, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			amount_usd = EXCLUDED.amount_usd,
			amount_brl = EXCLUDED.amount_brl,
			bonus_payout_handled = EXCLUDED.bonus_payout_handled,
			withdrawal_details = EXCLUDED.withdrawal_details,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		t.ID, t.UserID, string(t.Type), t.AmountUSD, t.AmountBRL, string(t.Status),
		t.Date.Ptr(), t.CreatedAt.Ptr(),
		t.ReferralLevel, nullString(t.SourceUserID), t.BonusPayoutHandled, details,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction %s: %w", t.ID, err)
	}
	return nil
}

// UpsertNotification inserts a notification or updates its read flag
func (r *RemoteRepository) UpsertNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, message, date, is_read)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET is_read = EXCLUDED.is_read
	`

	if _, err := r.db.Pool().Exec(ctx, query, n.ID, n.UserID, n.Message, n.Date.Ptr(), n.IsRead); err != nil {
		return fmt.Errorf("failed to upsert notification %s: %w", n.ID, err)
	}
	return nil
}

// AppendAdminLog inserts an audit entry; a replayed entry is ignored
func (r *RemoteRepository) AppendAdminLog(ctx context.Context, l *models.AdminActionLog) error {
	query := `
		INSERT INTO admin_action_logs (id, timestamp, admin_id, admin_name, action_type, description, target_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Pool().Exec(ctx, query,
		l.ID, l.Timestamp.Ptr(), l.AdminID, l.AdminName, string(l.ActionType), l.Description, nullString(l.TargetID))
	if err != nil {
		return fmt.Errorf("failed to append admin log %s: %w", l.ID, err)
	}
	return nil
}

// LoadSnapshot reads every collection in creation order from one consistent
// read-only transaction.
func (r *RemoteRepository) LoadSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	snap := &ledger.Snapshot{}
	err := r.db.ReadSnapshot(ctx, func(tx pgx.Tx) error {
		var err error
		if snap.Users, err = loadUsers(ctx, tx); err != nil {
			return err
		}
		if snap.Transactions, err = loadTransactions(ctx, tx); err != nil {
			return err
		}
		if snap.Notifications, err = loadNotifications(ctx, tx); err != nil {
			return err
		}
		snap.AdminLogs, err = loadAdminLogs(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func loadUsers(ctx context.Context, tx pgx.Tx) ([]*models.User, error) {
	query := `
		SELECT id, email, password_hash, name, role,
			balance_usd, capital_invested_usd, monthly_profit_usd, daily_withdrawable_usd, bonus_balance_usd,
			rank, plan, status, referral_code, COALESCE(referred_by_id, ''),
			joined_date, last_profit_update, last_plan_change_date
		FROM users
		ORDER BY seq
	`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		var role, rank, status string
		var joined, lastProfit, lastPlan *time.Time
		if err := rows.Scan(
			&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role,
			&u.BalanceUSD, &u.CapitalInvestedUSD, &u.MonthlyProfitUSD, &u.DailyWithdrawableUSD, &u.BonusBalanceUSD,
			&rank, &u.Plan, &status, &u.ReferralCode, &u.ReferredByID,
			&joined, &lastProfit, &lastPlan,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Role = types.UserRole(role)
		u.Rank = types.Rank(rank)
		u.Status = types.UserStatus(status)
		u.JoinedDate = tsFrom(joined)
		u.LastProfitUpdate = tsFrom(lastProfit)
		u.LastPlanChangeDate = tsFrom(lastPlan)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func loadTransactions(ctx context.Context, tx pgx.Tx) ([]*models.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount_usd, amount_brl, status, date, created_at,
			referral_level, COALESCE(source_user_id, ''), bonus_payout_handled, withdrawal_details
		FROM transactions
		ORDER BY seq
	`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		var txType, status string
		var brl decimal.NullDecimal
		var date, createdAt *time.Time
		var details []byte
		if err := rows.Scan(
			&t.ID, &t.UserID, &txType, &t.AmountUSD, &brl, &status, &date, &createdAt,
			&t.ReferralLevel, &t.SourceUserID, &t.BonusPayoutHandled, &details,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = types.TransactionType(txType)
		t.Status = types.TransactionStatus(status)
		t.AmountBRL = brl
		t.Date = tsFrom(date)
		t.CreatedAt = tsFrom(createdAt)
		if len(details) > 0 {
			var wd models.WithdrawalDetails
			if err := json.Unmarshal(details, &wd); err != nil {
				return nil, fmt.Errorf("failed to unmarshal withdrawal details of %s: %w", t.ID, err)
			}
			t.WithdrawalDetails = &wd
		}
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

func loadNotifications(ctx context.Context, tx pgx.Tx) ([]*models.Notification, error) {
	rows, err := tx.Query(ctx, `SELECT id, user_id, message, date, is_read FROM notifications ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Notification, error) {
		var n models.Notification
		var date *time.Time
		if err := row.Scan(&n.ID, &n.UserID, &n.Message, &date, &n.IsRead); err != nil {
			return nil, err
		}
		n.Date = tsFrom(date)
		return &n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	return notes, nil
}

func loadAdminLogs(ctx context.Context, tx pgx.Tx) ([]*models.AdminActionLog, error) {
	query := `
		SELECT id, timestamp, admin_id, admin_name, action_type, description, COALESCE(target_id, '')
		FROM admin_action_logs
		ORDER BY seq
	`
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin logs: %w", err)
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.AdminActionLog, error) {
		var l models.AdminActionLog
		var ts *time.Time
		var action string
		if err := row.Scan(&l.ID, &ts, &l.AdminID, &l.AdminName, &action, &l.Description, &l.TargetID); err != nil {
			return nil, err
		}
		l.Timestamp = tsFrom(ts)
		l.ActionType = types.AdminActionType(action)
		return &l, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan admin logs: %w", err)
	}
	return logs, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
