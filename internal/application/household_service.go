package application

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/config"
	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	repo "github.com/oksasatya/homekeep/internal/domain/repository"
	"github.com/oksasatya/homekeep/internal/realtime"
	"github.com/oksasatya/homekeep/pkg/mailer"
	tpl "github.com/oksasatya/homekeep/pkg/mailer/templates"
)

var (
	ErrNotMember     = apperr.New(apperr.CodeInsufficientPriv, "not a member of this household")
	ErrNotOwner      = apperr.New(apperr.CodeInsufficientPriv, "only the household owner can do that")
	ErrOwnerLeaving  = apperr.New(apperr.CodeInsufficientPriv, "the owner cannot leave while other members remain")
	ErrAlreadyMember = apperr.New(apperr.CodeUniqueViolation, "already a member of this household")
	ErrUnknownInvite = apperr.New(apperr.CodeNoRows, "invite code not found")
	ErrHouseholdName = apperr.New("23514", "household name is required")
)

const (
	inviteAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteCodeLength  = 6
	inviteCodeRetries = 3
)

// CurrentHousehold is the household a user lands in, with their membership.
type CurrentHousehold struct {
	Household  entity.Household  `json:"household"`
	Membership entity.Membership `json:"membership"`
}

type HouseholdService struct {
	Repo   repo.HouseholdRepository
	Users  repo.UserRepository
	Cache  *cache.Client
	Emails EmailQueue
	Cfg    *config.Config
	Logger *logrus.Logger
	notifier
}

func NewHouseholdService(r repo.HouseholdRepository, users repo.UserRepository, c *cache.Client, pub realtime.Publisher, emails EmailQueue, cfg *config.Config, logger *logrus.Logger) *HouseholdService {
	return &HouseholdService{
		Repo:     r,
		Users:    users,
		Cache:    c,
		Emails:   emails,
		Cfg:      cfg,
		Logger:   logger,
		notifier: notifier{pub: pub, logger: logger},
	}
}

func newInviteCode() (string, error) {
	b := make([]byte, inviteCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = inviteAlphabet[int(b[i])%len(inviteAlphabet)]
	}
	return string(b), nil
}

// Current returns the user's earliest household, or nil when they have none.
func (s *HouseholdService) Current(ctx context.Context, userID string) (*CurrentHousehold, error) {
	return cache.FetchJSON(ctx, s.Cache, KeyCurrentHousehold(userID), func(ctx context.Context) (*CurrentHousehold, error) {
		h, m, err := s.Repo.CurrentForUser(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &CurrentHousehold{Household: *h, Membership: *m}, nil
	})
}

// Authorize returns the caller's membership or ErrNotMember.
func (s *HouseholdService) Authorize(ctx context.Context, userID, householdID string) (*entity.Membership, error) {
	m, err := s.Repo.GetMembership(ctx, householdID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotMember
	}
	return m, err
}

func (s *HouseholdService) Create(ctx context.Context, userID, name string) (*CurrentHousehold, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrHouseholdName
	}
	var (
		h   *entity.Household
		m   *entity.Membership
		err error
	)
	for i := 0; i < inviteCodeRetries; i++ {
		code, cErr := newInviteCode()
		if cErr != nil {
			return nil, cErr
		}
		h = &entity.Household{Name: name, InviteCode: code, CreatedBy: userID}
		m, err = s.Repo.Create(ctx, h)
		// a clash on the invite code is retried with a fresh one
		if err == nil || apperr.Classify(err) != apperr.ValidationError {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	s.Cache.InvalidateAll(ctx, KeyCurrentHousehold(userID))
	s.publish(ctx, realtime.ResourceHouseholds, realtime.EventInsert, h)
	s.publish(ctx, realtime.ResourceMembers, realtime.EventInsert, m)
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"household_id": h.ID, "user_id": userID}).Info("household created")
	}
	return &CurrentHousehold{Household: *h, Membership: *m}, nil
}

func (s *HouseholdService) Join(ctx context.Context, userID, code string) (*CurrentHousehold, error) {
	h, err := s.Repo.GetByInviteCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnknownInvite
	}
	if err != nil {
		return nil, err
	}
	m, err := s.Repo.AddMember(ctx, h.ID, userID, entity.RoleMember)
	if err != nil {
		if apperr.Classify(err) == apperr.ValidationError {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}
	s.Cache.InvalidateAll(ctx, KeyCurrentHousehold(userID), KeyMembers(h.ID), KeyLeaderboard(h.ID))
	s.publish(ctx, realtime.ResourceMembers, realtime.EventInsert, m)
	return &CurrentHousehold{Household: *h, Membership: *m}, nil
}

func (s *HouseholdService) Leave(ctx context.Context, userID, householdID string) error {
	m, err := s.Authorize(ctx, userID, householdID)
	if err != nil {
		return err
	}
	if m.Role == entity.RoleOwner {
		members, err := s.Repo.Members(ctx, householdID)
		if err != nil {
			return err
		}
		if len(members) > 1 {
			return ErrOwnerLeaving
		}
	}
	if err := s.Repo.RemoveMember(ctx, householdID, userID); err != nil {
		return err
	}
	s.Cache.InvalidateAll(ctx, KeyCurrentHousehold(userID), KeyMembers(householdID), KeyLeaderboard(householdID))
	s.publish(ctx, realtime.ResourceMembers, realtime.EventDelete, m)
	return nil
}

func (s *HouseholdService) Rename(ctx context.Context, userID, householdID, name string) (*entity.Household, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrHouseholdName
	}
	m, err := s.Authorize(ctx, userID, householdID)
	if err != nil {
		return nil, err
	}
	if !m.Role.CanManage() {
		return nil, ErrNotOwner
	}
	if err := s.Repo.Rename(ctx, householdID, name); err != nil {
		return nil, err
	}
	h, err := s.Repo.GetByID(ctx, householdID)
	if err != nil {
		return nil, err
	}
	// every member's current-household view embeds the name
	s.Cache.InvalidateAll(ctx, KeyHousehold(householdID), cache.NewKey("household"))
	s.publish(ctx, realtime.ResourceHouseholds, realtime.EventUpdate, h)
	return h, nil
}

func (s *HouseholdService) Members(ctx context.Context, userID, householdID string) ([]entity.Member, error) {
	if _, err := s.Authorize(ctx, userID, householdID); err != nil {
		return nil, err
	}
	return cache.FetchJSON(ctx, s.Cache, KeyMembers(householdID), func(ctx context.Context) ([]entity.Member, error) {
		return s.Repo.Members(ctx, householdID)
	})
}

func (s *HouseholdService) Leaderboard(ctx context.Context, userID, householdID string) ([]entity.LeaderboardEntry, error) {
	if _, err := s.Authorize(ctx, userID, householdID); err != nil {
		return nil, err
	}
	return cache.FetchJSON(ctx, s.Cache, KeyLeaderboard(householdID), func(ctx context.Context) ([]entity.LeaderboardEntry, error) {
		return s.Repo.Leaderboard(ctx, householdID)
	})
}

// Invite queues an invitation email carrying the household's join link.
func (s *HouseholdService) Invite(ctx context.Context, userID, householdID, email string) (string, error) {
	if _, err := s.Authorize(ctx, userID, householdID); err != nil {
		return "", err
	}
	h, err := s.Repo.GetByID(ctx, householdID)
	if err != nil {
		return "", err
	}
	inviter, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	link := h.InviteCode
	if s.Cfg != nil && s.Cfg.InviteURL != "" {
		link = s.Cfg.InviteURL + "?code=" + h.InviteCode
	}
	if s.Emails != nil && s.Cfg != nil && s.Cfg.MailSendEnabled {
		data := tpl.NewHouseholdInviteData(s.Cfg, email, inviter.Name, h.Name, h.InviteCode, link)
		if err := s.Emails.PublishJSON(ctx, mailer.EmailJob{To: email, Template: tpl.HouseholdInvite, Data: data}); err != nil {
			if s.Logger != nil {
				s.Logger.WithError(err).WithField("household_id", householdID).Warn("failed to publish invite email")
			}
			return "", err
		}
	}
	return link, nil
}
