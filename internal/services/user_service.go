package services

import (
	"context"

	"chat-core/internal/database"
	"chat-core/internal/models"
)

type UserService struct {
	db database.Database
}

func NewUserService(db database.Database) *UserService {
	return &UserService{db: db}
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.Identity, error) {
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Identity, len(users))
	for i, u := range users {
		out[i] = u.Identity()
	}
	return out, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (models.Identity, error) {
	u, err := s.db.GetUserByID(ctx, id)
	if err != nil {
		return models.Identity{}, err
	}
	return u.Identity(), nil
}
