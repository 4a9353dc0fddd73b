package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	dbadapter "github.com/tigerroll/feedpipe/pkg/batch/adapter/database"
	coreadapter "github.com/tigerroll/feedpipe/pkg/batch/core/adapter"
)

// MockDBConnectionResolver is a testify mock of dbadapter.DBConnectionResolver.
type MockDBConnectionResolver struct {
	mock.Mock
}

// ResolveDBConnection mocks the ResolveDBConnection method.
func (m *MockDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	args := m.Called(ctx, name)
	conn, _ := args.Get(0).(dbadapter.DBConnection)
	return conn, args.Error(1)
}

// ResolveConnection mocks the ResolveConnection method.
func (m *MockDBConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreadapter.ResourceConnection, error) {
	return m.ResolveDBConnection(ctx, name)
}

// singleConnectionResolver always resolves to the same connection.
type singleConnectionResolver struct {
	conn dbadapter.DBConnection
}

// NewSingleConnectionResolver returns a resolver that hands out conn for every name.
func NewSingleConnectionResolver(conn dbadapter.DBConnection) dbadapter.DBConnectionResolver {
	return &singleConnectionResolver{conn: conn}
}

func (r *singleConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	return r.conn, nil
}

func (r *singleConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreadapter.ResourceConnection, error) {
	return r.conn, nil
}
