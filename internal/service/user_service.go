package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	// bcrypt ignores input past 72 bytes
	maxPasswordLength      = 72
	referralCodeLength     = 8
	referralCodeMaxRetries = 10
)

// UserService handles registration, account review, plan changes and read models
type UserService struct {
	store    *ledger.Store
	cfg      EngineConfig
	notifier *Notifier
	logger   *logging.Logger
}

// NewUserService creates a new user service
func NewUserService(store *ledger.Store, cfg EngineConfig, logger *logging.Logger) *UserService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &UserService{
		store:    store,
		cfg:      cfg,
		notifier: NewNotifier(cfg.now),
		logger:   logger.Component("user_service"),
	}
}

// RegisterInput represents a new investor registration
type RegisterInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	Plan         string `json:"plan,omitempty"`
	ReferralCode string `json:"referralCode,omitempty"` // code of the referring user
}

// LevelSummary counts referred users at one depth of the referral tree
type LevelSummary struct {
	Level     int `json:"level"`
	Referrals int `json:"referrals"`
}

// ReferralSummary describes a user's down-line and earnings
type ReferralSummary struct {
	UserID        string          `json:"userId"`
	ReferralCode  string          `json:"referralCode"`
	Levels        []LevelSummary  `json:"levels"`
	BonusCount    int             `json:"bonusCount"`
	TotalBonusUSD decimal.Decimal `json:"totalBonusUSD"`
}

// Register creates a pending investor account
func (s *UserService) Register(ctx context.Context, input *RegisterInput) (*models.User, error) {
	if err := validateRegistration(input); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.NewInternalError("failed to hash password", err)
	}

	var created *models.User
	err = s.store.Update(ctx, func(tx *ledger.Txn) error {
		email := models.NormalizeEmail(input.Email)
		if _, taken := tx.FindUser(func(u *models.User) bool { return models.NormalizeEmail(u.Email) == email }); taken {
			return errors.NewEmailTakenError(email)
		}

		plan := s.cfg.Plans.Default()
		if input.Plan != "" {
			p, ok := s.cfg.Plans.Lookup(input.Plan)
			if !ok {
				return errors.NewInvalidParameterError("plan", fmt.Sprintf("unknown plan %q", input.Plan))
			}
			plan = p
		}

		var referredBy string
		if code := strings.TrimSpace(input.ReferralCode); code != "" {
			referrer, ok := tx.FindUser(func(u *models.User) bool { return strings.EqualFold(u.ReferralCode, code) })
			if !ok {
				return errors.NewInvalidParameterError("referralCode", "unknown referral code")
			}
			referredBy = referrer.ID
		}

		code, err := uniqueReferralCode(tx)
		if err != nil {
			return err
		}

		now := s.cfg.now()
		created = &models.User{
			ID:           newID(),
			Email:        email,
			PasswordHash: string(hash),
			Name:         strings.TrimSpace(input.Name),
			Role:         types.RoleInvestor,
			BalanceUSD:   decimal.Zero,
			Plan:         plan.Name,
			Status:       types.UserPending,
			ReferralCode: code,
			ReferredByID: referredBy,
			JoinedDate:   models.NewTimestamp(now),
		}
		ledger.Recompute(created, s.cfg.Plans)
		tx.PutUser(created)

		s.notifier.NotifyAdmins(tx, fmt.Sprintf("New registration awaiting review: %s (%s).", created.Name, created.Email))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"userId":     created.ID,
		"referredBy": created.ReferredByID,
	}).Info("user registered")
	return created.Public(), nil
}

func validateRegistration(input *RegisterInput) error {
	if input == nil {
		return errors.NewInvalidParameterError("body", "request is required")
	}
	email := models.NormalizeEmail(input.Email)
	if at := strings.Index(email, "@"); at < 1 || at == len(email)-1 {
		return errors.NewInvalidParameterError("email", "a valid email is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return errors.NewInvalidParameterError("name", "name is required")
	}
	if len(input.Password) < minPasswordLength || len(input.Password) > maxPasswordLength {
		return errors.NewInvalidParameterError("password",
			fmt.Sprintf("password must be between %d and %d characters", minPasswordLength, maxPasswordLength))
	}
	return nil
}

func uniqueReferralCode(tx *ledger.Txn) (string, error) {
	for i := 0; i < referralCodeMaxRetries; i++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:referralCodeLength])
		if _, taken := tx.FindUser(func(u *models.User) bool { return strings.EqualFold(u.ReferralCode, code) }); !taken {
			return code, nil
		}
	}
	return "", errors.NewInternalError("could not generate a unique referral code", nil)
}

// SeedAdmin creates the administrator account unless one already exists
func (s *UserService) SeedAdmin(ctx context.Context, email, password, name string) (*models.User, error) {
	var admin *models.User
	var hash []byte
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, errors.NewInternalError("failed to hash password", err)
		}
		hash = h
	}

	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		if existing, ok := tx.FindUser(func(u *models.User) bool { return u.IsAdmin() }); ok {
			admin = existing
			return nil
		}

		code, err := uniqueReferralCode(tx)
		if err != nil {
			return err
		}
		now := s.cfg.now()
		admin = &models.User{
			ID:           newID(),
			Email:        models.NormalizeEmail(email),
			PasswordHash: string(hash),
			Name:         name,
			Role:         types.RoleAdmin,
			Plan:         s.cfg.Plans.Default().Name,
			Status:       types.UserApproved,
			ReferralCode: code,
			JoinedDate:   models.NewTimestamp(now),
		}
		ledger.Recompute(admin, s.cfg.Plans)
		tx.PutUser(admin)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return admin.Public(), nil
}

// ApproveUser activates a pending account. Profit accrues from approval time.
func (s *UserService) ApproveUser(ctx context.Context, userID, adminID string) (*models.User, error) {
	return s.review(ctx, userID, adminID, types.UserApproved)
}

// RejectUser refuses an account
func (s *UserService) RejectUser(ctx context.Context, userID, adminID string) (*models.User, error) {
	return s.review(ctx, userID, adminID, types.UserRejected)
}

func (s *UserService) review(ctx context.Context, userID, adminID string, status types.UserStatus) (*models.User, error) {
	var reviewed *models.User
	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		admin, err := requireAdmin(tx, adminID)
		if err != nil {
			return err
		}
		u, ok := tx.User(userID)
		if !ok {
			return errors.NewNotFoundError("user", userID)
		}
		reviewed = u
		if u.Status == status {
			return nil
		}

		u.Status = status
		action := types.ActionUserReject
		verb := "rejected"
		if status == types.UserApproved {
			u.LastProfitUpdate = models.NewTimestamp(s.cfg.now())
			action = types.ActionUserApprove
			verb = "approved"
		}
		tx.PutUser(u)

		s.notifier.Notify(tx, u.ID, fmt.Sprintf("Your account has been %s.", verb))
		s.notifier.Audit(tx, admin, action, fmt.Sprintf("%s %s the account of %s", admin.Name, verb, u.Name), u.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reviewed.Public(), nil
}

// ChangePlan switches a user's investment plan. The user or an admin may do it,
// at most once per cooldown period. Admin changes are audited.
func (s *UserService) ChangePlan(ctx context.Context, userID, planName, actorID string) (*models.User, error) {
	plan, ok := s.cfg.Plans.Lookup(planName)
	if !ok {
		return nil, errors.NewInvalidParameterError("plan", fmt.Sprintf("unknown plan %q", planName))
	}

	var changed *models.User
	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		actor, ok := tx.User(actorID)
		if !ok || (actor.ID != userID && !actor.IsAdmin()) {
			return errors.NewForbiddenError("only the account owner or an administrator can change the plan")
		}
		u, ok := tx.User(userID)
		if !ok {
			return errors.NewNotFoundError("user", userID)
		}
		changed = u
		if strings.EqualFold(u.Plan, plan.Name) {
			return nil
		}

		now := s.cfg.now()
		if u.LastPlanChangeDate.Valid() {
			availableAt := u.LastPlanChangeDate.Time().Add(s.cfg.PlanChangeCooldown)
			if now.Before(availableAt) {
				return errors.NewPlanChangeCooldownError(u.ID, availableAt.Format(time.RFC3339))
			}
		}

		previous := u.Plan
		u.Plan = plan.Name
		u.LastPlanChangeDate = models.NewTimestamp(now)
		ledger.Recompute(u, s.cfg.Plans)
		tx.PutUser(u)

		s.notifier.Notify(tx, u.ID, fmt.Sprintf("Your plan changed from %s to %s.", previous, plan.Name))
		if actor.IsAdmin() {
			s.notifier.Audit(tx, actor, types.ActionPlanChange,
				fmt.Sprintf("%s changed the plan of %s from %s to %s", actor.Name, u.Name, previous, plan.Name), u.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed.Public(), nil
}

// UpdateUserBalance overrides a balance directly. It skips settlement rules but
// still keeps rank and monthly profit consistent.
func (s *UserService) UpdateUserBalance(ctx context.Context, userID string, newBalance decimal.Decimal, adminID string) (*models.User, error) {
	if newBalance.IsNegative() {
		return nil, errors.NewInvalidParameterError("balanceUSD", "balance must not be negative")
	}

	var updated *models.User
	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		admin, err := requireAdmin(tx, adminID)
		if err != nil {
			return err
		}
		u, ok := tx.User(userID)
		if !ok {
			return errors.NewNotFoundError("user", userID)
		}

		previous := u.BalanceUSD
		u.BalanceUSD = newBalance
		ledger.Recompute(u, s.cfg.Plans)
		tx.PutUser(u)
		updated = u

		s.notifier.Audit(tx, admin, types.ActionBalanceEdit, fmt.Sprintf("%s changed the balance of %s from %s to %s",
			admin.Name, u.Name, formatUSD(previous), formatUSD(newBalance)), u.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"userId":  userID,
		"adminId": adminID,
		"balance": newBalance.String(),
	}).Info("balance overridden")
	return updated.Public(), nil
}

// GetUser returns a user without credentials
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u *models.User
	err := s.store.View(func(tx *ledger.Txn) error {
		found, ok := tx.User(userID)
		if !ok {
			return errors.NewNotFoundError("user", userID)
		}
		u = found.Public()
		return nil
	})
	return u, err
}

// ListUserTransactions returns the user's transactions, newest first
func (s *UserService) ListUserTransactions(ctx context.Context, userID string) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := s.store.View(func(tx *ledger.Txn) error {
		if _, ok := tx.User(userID); !ok {
			return errors.NewNotFoundError("user", userID)
		}
		txs = tx.Transactions(func(t *models.Transaction) bool { return t.UserID == userID })
		return nil
	})
	sort.SliceStable(txs, func(i, j int) bool { return txs[j].Before(txs[i]) })
	return txs, err
}

// ListNotifications returns the user's notifications, newest first
func (s *UserService) ListNotifications(ctx context.Context, userID string) ([]*models.Notification, error) {
	var notes []*models.Notification
	err := s.store.View(func(tx *ledger.Txn) error {
		notes = tx.Notifications(func(n *models.Notification) bool { return n.UserID == userID })
		return nil
	})
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Date.Time().After(notes[j].Date.Time()) })
	return notes, err
}

// MarkNotificationRead flags one of the user's notifications as read
func (s *UserService) MarkNotificationRead(ctx context.Context, notificationID, userID string) (*models.Notification, error) {
	var note *models.Notification
	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		n, ok := tx.Notification(notificationID)
		if !ok {
			return errors.NewNotFoundError("notification", notificationID)
		}
		if n.UserID != userID {
			return errors.NewForbiddenError("notification belongs to another user")
		}
		note = n
		if n.IsRead {
			return nil
		}
		n.IsRead = true
		tx.PutNotification(n)
		return nil
	})
	return note, err
}

// ListAdminLogs returns the audit trail newest first, at most limit entries when limit > 0
func (s *UserService) ListAdminLogs(ctx context.Context, adminID string, limit int) ([]*models.AdminActionLog, error) {
	var logs []*models.AdminActionLog
	err := s.store.View(func(tx *ledger.Txn) error {
		if _, err := requireAdmin(tx, adminID); err != nil {
			return err
		}
		all := tx.AdminLogs()
		for i := len(all) - 1; i >= 0; i-- {
			logs = append(logs, all[i])
			if limit > 0 && len(logs) == limit {
				break
			}
		}
		return nil
	})
	return logs, err
}

// ReferralSummary counts the user's down-line per level and totals bonus earnings
func (s *UserService) ReferralSummary(ctx context.Context, userID string) (*ReferralSummary, error) {
	var summary *ReferralSummary
	err := s.store.View(func(tx *ledger.Txn) error {
		u, ok := tx.User(userID)
		if !ok {
			return errors.NewNotFoundError("user", userID)
		}
		summary = &ReferralSummary{UserID: u.ID, ReferralCode: u.ReferralCode, TotalBonusUSD: decimal.Zero}

		children := make(map[string][]string)
		for _, other := range tx.Users(func(o *models.User) bool { return o.ReferredByID != "" }) {
			children[other.ReferredByID] = append(children[other.ReferredByID], other.ID)
		}

		seen := map[string]bool{u.ID: true}
		frontier := []string{u.ID}
		for level := 1; level <= ledger.MaxReferralDepth; level++ {
			var next []string
			for _, id := range frontier {
				for _, child := range children[id] {
					if !seen[child] {
						seen[child] = true
						next = append(next, child)
					}
				}
			}
			summary.Levels = append(summary.Levels, LevelSummary{Level: level, Referrals: len(next)})
			frontier = next
		}

		for _, b := range tx.Transactions(func(t *models.Transaction) bool {
			return t.UserID == userID && t.Type == types.TxBonus && t.Status == types.StatusCompleted
		}) {
			summary.BonusCount++
			summary.TotalBonusUSD = summary.TotalBonusUSD.Add(b.AmountUSD)
		}
		return nil
	})
	return summary, err
}
