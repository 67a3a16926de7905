package users

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/dbtest"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	"github.com/angelmondragon/meetlessons-backend/pkg/enums"
)

func TestRepositoryFindByID(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewRepository(db)

	user := &models.User{Email: "learner@example.com"}
	require.NoError(t, db.Create(user).Error)
	require.NotEqual(t, uuid.Nil, user.ID)

	found, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "learner@example.com", found.Email)
	require.Equal(t, enums.UserRoleUser, found.Role)

	missing, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	exists, err := repo.Exists(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, exists)
}
