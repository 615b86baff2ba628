package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginate(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	tests := []struct {
		name      string
		args      ListArgs
		wantItems []int
		wantMeta  *PageMeta
	}{
		{"no limit returns everything", ListArgs{}, items, nil},
		{"negative limit returns everything", ListArgs{Limit: -3}, items, nil},
		{"first page", ListArgs{Limit: 3}, []int{0, 1, 2}, &PageMeta{TotalCount: 10, Limit: 3, HasMore: true}},
		{"middle page", ListArgs{Limit: 3, Offset: 3}, []int{3, 4, 5}, &PageMeta{TotalCount: 10, Limit: 3, Offset: 3, HasMore: true}},
		{"last partial page", ListArgs{Limit: 3, Offset: 9}, []int{9}, &PageMeta{TotalCount: 10, Limit: 3, Offset: 9}},
		{"offset past end", ListArgs{Limit: 3, Offset: 50}, []int{}, &PageMeta{TotalCount: 10, Limit: 3, Offset: 50}},
		{"negative offset", ListArgs{Limit: 2, Offset: -4}, []int{0, 1}, &PageMeta{TotalCount: 10, Limit: 2, HasMore: true}},
		{"limit capped", ListArgs{Limit: 5000}, items, &PageMeta{TotalCount: 10, Limit: maxPageLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, meta := paginate(items, tt.args)
			assert.Equal(t, tt.wantItems, got)
			if tt.wantMeta == nil {
				assert.Nil(t, meta)
				return
			}
			require.NotNil(t, meta)
			assert.Equal(t, *tt.wantMeta, *meta)
		})
	}
}

func TestListOKNeverNil(t *testing.T) {
	res, err := listOK[string](nil, ListArgs{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotNil(t, res.Data)
	assert.Empty(t, res.Data)
}
