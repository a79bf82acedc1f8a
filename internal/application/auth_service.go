package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/config"
	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	repo "github.com/oksasatya/homekeep/internal/domain/repository"
	"github.com/oksasatya/homekeep/pkg/helpers"
	"github.com/oksasatya/homekeep/pkg/mailer"
	tpl "github.com/oksasatya/homekeep/pkg/mailer/templates"
)

var (
	ErrInvalidCredentials = apperr.New("invalid_credentials", apperr.MsgInvalidCredentials)
	ErrEmailNotConfirmed  = apperr.New("email_not_confirmed", apperr.MsgEmailNotConfirmed)
	ErrAlreadyRegistered  = apperr.New("user_already_exists", apperr.MsgAlreadyRegistered)
	ErrInvalidToken       = apperr.New("invalid_token", "invalid or expired token")
	ErrUnavailable        = errors.New("token store unavailable")
	ErrStorageDisabled    = errors.New("gcs not configured")
)

// EmailQueue accepts email jobs for the worker.
type EmailQueue interface {
	PublishJSON(ctx context.Context, body any) error
}

type AuthService struct {
	Repo      repo.UserRepository
	JWT       *helpers.JWTManager
	GCS       *storage.Client
	GCSBucket string
	Redis     *redis.Client
	Cache     *cache.Client
	Logger    *logrus.Logger
	Emails    EmailQueue
	Cfg       *config.Config
}

type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

// RequestMeta describes the caller for email notices.
type RequestMeta struct {
	IP        string
	UserAgent string
}

func keyVerifyToken(t string) string { return "email:verify:token:" + t }
func keyResetToken(t string) string  { return "pwd:reset:token:" + t }

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func NewAuthService(repo repo.UserRepository, jwt *helpers.JWTManager, gcs *storage.Client, gcsBucket string, rdb *redis.Client, c *cache.Client, logger *logrus.Logger, emails EmailQueue, cfg *config.Config) *AuthService {
	return &AuthService{
		Repo:      repo,
		JWT:       jwt,
		GCS:       gcs,
		GCSBucket: gcsBucket,
		Redis:     rdb,
		Cache:     c,
		Logger:    logger,
		Emails:    emails,
		Cfg:       cfg,
	}
}

type LoginResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Signup creates an unverified account.
func (s *AuthService) Signup(ctx context.Context, email, password, name string) (*entity.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := s.Repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	hash, err := helpers.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{Email: email, Password: hash, Name: strings.TrimSpace(name)}
	if err := s.Repo.Create(ctx, u); err != nil {
		// lost a race with a concurrent signup
		if apperr.Classify(err) == apperr.ValidationError {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.WithField("user_id", u.ID).Info("user signed up")
	}
	return u, nil
}

// Authenticate validates email/password and returns the user without issuing tokens.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*entity.User, error) {
	u, err := s.Repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil || u == nil {
		return nil, ErrInvalidCredentials
	}
	if !helpers.CompareHashAndPassword(u.Password, password) {
		return nil, ErrInvalidCredentials
	}
	if helpers.NeedsRehash(u.Password) {
		s.rehash(ctx, u, password)
	}
	if s.Cfg != nil && s.Cfg.RequireEmailConfirmation && !u.IsVerified {
		return nil, ErrEmailNotConfirmed
	}
	return u, nil
}

// rehash upgrades a stored hash to the current cost. Failures only log.
func (s *AuthService) rehash(ctx context.Context, u *entity.User, password string) {
	hash, err := helpers.HashPassword(password)
	if err == nil {
		err = s.Repo.UpdatePassword(ctx, u.ID, hash)
	}
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Warn("password rehash failed")
		}
		return
	}
	u.Password = hash
}

// IssueTokens generates access/refresh tokens and records a session in Redis.
func (s *AuthService) IssueTokens(ctx context.Context, u *entity.User) (TokenPair, error) {
	sid := uuid.NewString()
	pair, err := s.tokens(u.ID, sid)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Error("generate tokens failed")
		}
		return TokenPair{}, err
	}

	if s.Redis != nil {
		fields := map[string]any{
			"user_id":    u.ID,
			"email":      u.Email,
			"name":       u.Name,
			"avatar_url": u.AvatarURL,
			"sid":        sid,
			"logged_in":  true,
			"created_at": nowRFC3339(),
		}
		key := sessionKey(u.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.JWT.RefreshTTL)
		if _, rErr := pipe.Exec(ctx); rErr != nil && s.Logger != nil {
			s.Logger.WithError(rErr).WithField("key", key).Warn("redis pipeline failed")
		}
	}
	return pair, nil
}

func (s *AuthService) tokens(uid, sid string) (TokenPair, error) {
	access, aexp, err := s.JWT.GenerateAccessToken(uid, sid)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rexp, err := s.JWT.GenerateRefreshToken(uid, sid)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, AccessTokenExpiry: aexp, RefreshToken: refresh, RefreshTokenExpiry: rexp}, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResponse, TokenPair, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.IssueTokens(ctx, u)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return &LoginResponse{UserID: u.ID, Email: u.Email, Name: u.Name}, pair, nil
}

// Logout drops the server-side session so outstanding tokens stop working.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if s.Redis == nil || userID == "" {
		return nil
	}
	return helpers.RedisDel(ctx, s.Redis, sessionKey(userID))
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, string, error) {
	claims, err := s.JWT.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, "", ErrInvalidCredentials
	}
	u, err := s.Repo.GetByID(ctx, claims.UserID)
	if err != nil || u == nil {
		return TokenPair{}, "", ErrInvalidCredentials
	}
	// the token's sid must still be the live session
	if s.Redis != nil {
		data, rErr := s.Redis.HGetAll(ctx, sessionKey(u.ID)).Result()
		if rErr != nil || len(data) == 0 || data["sid"] != claims.SessionID {
			return TokenPair{}, "", ErrInvalidCredentials
		}
	}
	sid := uuid.NewString()
	pair, err := s.tokens(u.ID, sid)
	if err != nil {
		return TokenPair{}, "", err
	}
	if s.Redis != nil {
		key := sessionKey(u.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, map[string]any{
			"sid":        sid,
			"updated_at": nowRFC3339(),
		})
		pipe.Expire(ctx, key, s.JWT.RefreshTTL)
		_, _ = pipe.Exec(ctx)
	}
	return pair, u.ID, nil
}

func (s *AuthService) GetProfile(ctx context.Context, userID string) (*entity.User, error) {
	return cache.FetchJSON(ctx, s.Cache, KeyProfile(userID), func(ctx context.Context) (*entity.User, error) {
		return s.Repo.GetByID(ctx, userID)
	})
}

type UpdateProfileInput struct {
	Name      string
	AvatarURL string
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*entity.User, error) {
	u, err := s.Repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		u.Name = in.Name
	}
	if in.AvatarURL != "" {
		u.AvatarURL = in.AvatarURL
	}
	if err := s.Repo.Update(ctx, u); err != nil {
		return nil, err
	}
	s.afterProfileChange(ctx, u)
	return u, nil
}

// afterProfileChange refreshes the session hash and invalidates cached views
// that embed the user's name or avatar.
func (s *AuthService) afterProfileChange(ctx context.Context, u *entity.User) {
	if s.Redis != nil {
		key := sessionKey(u.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, map[string]any{
			"name":       u.Name,
			"avatar_url": u.AvatarURL,
			"updated_at": nowRFC3339(),
		})
		if ttl, tErr := s.Redis.TTL(ctx, key).Result(); tErr == nil && ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		if _, pErr := pipe.Exec(ctx); pErr != nil && s.Logger != nil {
			s.Logger.WithError(pErr).WithField("key", key).Warn("redis pipeline failed")
		}
	}
	if s.Cache != nil {
		s.Cache.InvalidateAll(ctx, KeyProfile(u.ID), cache.NewKey("households"), cache.NewKey("messages"))
	}
}

// UploadAvatar stores the image in GCS and points the profile at it.
func (s *AuthService) UploadAvatar(ctx context.Context, userID string, r io.Reader, filename, contentType string) (string, error) {
	u, err := s.Repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if s.GCS == nil || s.GCSBucket == "" {
		return "", ErrStorageDisabled
	}
	ext := strings.ToLower(filepath.Ext(filename))
	objectPath := filepath.ToSlash(filepath.Join("avatars", userID, uuid.NewString()+ext))
	url, err := helpers.UploadImageToGCS(ctx, s.GCS, s.GCSBucket, objectPath, contentType, r)
	if err != nil {
		return "", err
	}
	u.AvatarURL = url
	if err := s.Repo.Update(ctx, u); err != nil {
		return "", err
	}
	s.afterProfileChange(ctx, u)
	return url, nil
}

func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifyInit issues an email verification link. already is true when the
// account is verified and nothing was sent.
func (s *AuthService) VerifyInit(ctx context.Context, userID string, meta RequestMeta) (link string, already bool, err error) {
	u, err := s.Repo.GetByID(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if u.IsVerified {
		return "", true, nil
	}
	if s.Redis == nil {
		return "", false, ErrUnavailable
	}
	tok, err := genToken(32)
	if err != nil {
		return "", false, err
	}
	if err := s.Redis.Set(ctx, keyVerifyToken(tok), u.ID, 24*time.Hour).Err(); err != nil {
		return "", false, err
	}
	link = s.Cfg.VerifyEmailURL + "?token=" + tok
	s.audit(u.ID, "verify_init_issue")

	data := tpl.NewVerifyEmailData(s.Cfg, u.Name, u.Email, link,
		tpl.WithTime(time.Now()),
		tpl.WithExpiresIn(24*time.Hour),
		tpl.WithIP(meta.IP),
		tpl.WithUserAgent(meta.UserAgent),
	)
	s.enqueue(ctx, mailer.EmailJob{To: u.Email, Template: tpl.VerifyEmail, Data: data})
	return link, false, nil
}

func (s *AuthService) VerifyConfirm(ctx context.Context, token string) error {
	if s.Redis == nil {
		return ErrUnavailable
	}
	uid, ok, err := helpers.RedisTake(ctx, s.Redis, keyVerifyToken(token))
	if err != nil || !ok {
		return ErrInvalidToken
	}
	if err := s.Repo.SetVerified(ctx, uid); err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.InvalidateAll(ctx, KeyProfile(uid))
	}
	s.audit(uid, "verify_confirm")
	return nil
}

// ResetInit sends a password reset link. Unknown emails succeed silently to
// avoid account enumeration.
func (s *AuthService) ResetInit(ctx context.Context, email string, meta RequestMeta) error {
	if s.Redis == nil {
		return ErrUnavailable
	}
	u, err := s.Repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.audit("", "reset_init_unknown")
			return nil
		}
		return err
	}
	tok, err := genToken(32)
	if err != nil {
		return err
	}
	if err := s.Redis.Set(ctx, keyResetToken(tok), u.ID, 30*time.Minute).Err(); err != nil {
		return err
	}
	link := s.Cfg.ResetPasswordURL + "?token=" + tok
	data := tpl.NewForgotPasswordData(s.Cfg, u.Name, u.Email, u.Email,
		tpl.WithTime(time.Now()),
		tpl.WithResetURL(link),
		tpl.WithExpiresIn(30*time.Minute),
		tpl.WithIP(meta.IP),
		tpl.WithUserAgent(meta.UserAgent),
	)
	s.enqueue(ctx, mailer.EmailJob{To: u.Email, Template: tpl.ForgotPassword, Data: data})
	s.audit(u.ID, "reset_init_issue")
	return nil
}

func (s *AuthService) ResetConfirm(ctx context.Context, token, newPassword string) error {
	if s.Redis == nil {
		return ErrUnavailable
	}
	uid, err := s.Redis.Get(ctx, keyResetToken(token)).Result()
	if err != nil || uid == "" {
		return ErrInvalidToken
	}
	hash, err := helpers.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdatePassword(ctx, uid, hash); err != nil {
		return err
	}
	s.Redis.Del(ctx, keyResetToken(token))
	// existing sessions end with the old password
	_ = helpers.RedisDel(ctx, s.Redis, sessionKey(uid))
	s.audit(uid, "reset_confirm")
	return nil
}

func (s *AuthService) enqueue(ctx context.Context, job mailer.EmailJob) {
	if s.Emails == nil || s.Cfg == nil || !s.Cfg.MailSendEnabled {
		return
	}
	if err := s.Emails.PublishJSON(ctx, job); err != nil && s.Logger != nil {
		s.Logger.WithError(err).WithField("template", job.Template).Warn("failed to publish email job")
	}
}

func (s *AuthService) audit(userID, action string) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{"audit": true, "user_id": userID, "action": action}).Info("auth event")
}
