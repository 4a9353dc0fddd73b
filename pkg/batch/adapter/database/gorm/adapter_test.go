package gorm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/feedpipe/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/feedpipe/pkg/batch/test"
)

type brandRow struct {
	ID              uint    `gorm:"column:id;primaryKey"`
	MallName        string  `gorm:"column:mall_name"`
	MallBrandNameEn string  `gorm:"column:mall_brand_name_en"`
	BuymaBrandName  *string `gorm:"column:buyma_brand_name"`
	IsActive        int     `gorm:"column:is_active"`
}

func (brandRow) TableName() string { return "mall_brands" }

func seed(t *testing.T, conn *gormadapter.GormDBAdapter, rows ...brandRow) {
	t.Helper()
	for i := range rows {
		require.NoError(t, conn.GetGormDB().Create(&rows[i]).Error)
	}
}

func TestGormDBAdapter_QueryAdvanced(t *testing.T) {
	conn := test.NewSQLiteConnection(t)
	ctx := context.Background()
	seed(t, conn,
		brandRow{MallName: "okmall", MallBrandNameEn: "Nike", IsActive: 1},
		brandRow{MallName: "okmall", MallBrandNameEn: "AMI", IsActive: 1},
		brandRow{MallName: "wconcept", MallBrandNameEn: "Nike", IsActive: 0},
	)

	var rows []brandRow
	require.NoError(t, conn.ExecuteQueryAdvanced(ctx, &rows, map[string]interface{}{"mall_name": "okmall"}, "mall_brand_name_en ASC", 1))
	require.Len(t, rows, 1)
	assert.Equal(t, "AMI", rows[0].MallBrandNameEn)

	rows = nil
	require.NoError(t, conn.ExecuteQueryAdvanced(ctx, &rows, map[string]interface{}{"is_active": 1}, "", 0))
	assert.Len(t, rows, 2)
}

func TestGormDBAdapter_UpsertAndUpdateColumns(t *testing.T) {
	conn := test.NewSQLiteConnection(t)
	ctx := context.Background()
	dest := "NIKE"

	n, err := conn.ExecuteUpsert(ctx, &brandRow{MallName: "okmall", MallBrandNameEn: "Nike", IsActive: 1}, "", []string{"mall_name", "mall_brand_name_en"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = conn.ExecuteUpsert(ctx, &brandRow{MallName: "okmall", MallBrandNameEn: "Nike", IsActive: 0}, "", []string{"mall_name", "mall_brand_name_en"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "conflicting insert does nothing")

	n, err = conn.ExecuteUpsert(ctx, &brandRow{MallName: "okmall", MallBrandNameEn: "Nike", BuymaBrandName: &dest, IsActive: 1}, "", []string{"mall_name", "mall_brand_name_en"}, []string{"buyma_brand_name"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var rows []brandRow
	require.NoError(t, conn.ExecuteQuery(ctx, &rows, nil))
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].BuymaBrandName)
	assert.Equal(t, "NIKE", *rows[0].BuymaBrandName)
	assert.Equal(t, 1, rows[0].IsActive)

	n, err = conn.ExecuteUpdateColumns(ctx, "mall_brands", map[string]interface{}{"mall_brand_name_en": "Nike"}, map[string]interface{}{"is_active": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = conn.ExecuteUpdateColumns(ctx, "mall_brands", nil, map[string]interface{}{"is_active": 0})
	assert.Error(t, err, "an update without a condition is refused")
}

func TestGormDBAdapter_IsTableNotExistError(t *testing.T) {
	conn := test.NewBareSQLiteConnection(t)

	var rows []brandRow
	err := conn.ExecuteQuery(context.Background(), &rows, nil)
	require.Error(t, err)
	assert.True(t, conn.IsTableNotExistError(err))
	assert.False(t, conn.IsTableNotExistError(nil))
}
