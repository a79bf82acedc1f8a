package application

import (
	"context"

	"github.com/oksasatya/homekeep/internal/gate"
)

// SessionService feeds server-side session and household state into the gate.
type SessionService struct {
	Households *HouseholdService
}

func NewSessionService(households *HouseholdService) *SessionService {
	return &SessionService{Households: households}
}

// GateInput builds the gate input for userID at location. An empty userID
// means no session.
func (s *SessionService) GateInput(ctx context.Context, userID string, location gate.Route) (gate.Input, *CurrentHousehold, error) {
	in := gate.Input{Location: location}
	if userID == "" {
		return in, nil, nil
	}
	in.Session.Present = true
	cur, err := s.Households.Current(ctx, userID)
	if err != nil {
		return in, nil, err
	}
	in.Household.Present = cur != nil
	return in, cur, nil
}

// Decide evaluates the gate for one request.
func (s *SessionService) Decide(ctx context.Context, userID string, location gate.Route) (gate.Decision, *CurrentHousehold, error) {
	in, cur, err := s.GateInput(ctx, userID, location)
	if err != nil {
		return gate.Decision{}, nil, err
	}
	return gate.Decide(in), cur, nil
}
