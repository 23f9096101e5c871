package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/testutil"
)

func TestGetResource_FieldVisibility(t *testing.T) {
	f := newFixture(t, testutil.LoadDefinition(t, switchDef))
	uid := f.create(t, "Switch", ir.Object{"maxVoltage": ir.Number(220), "password": ir.String("hunter2")})

	got, err := f.engine.GetResource(context.Background(), GetResourceParams{UID: uid, Type: "Switch", AsUser: regular})
	require.NoError(t, err)
	require.True(t, got.Success)
	assert.Equal(t, "off", got.Resource.State)

	pw, ok := got.Resource.Field("password")
	require.True(t, ok)
	assert.False(t, pw.Visible)
	assert.Nil(t, pw.Value)
	assert.Equal(t, []string{"You are not allowed to read this property."}, pw.Errors)
	assert.Equal(t, ir.Object{"state": ir.String("off"), "maxVoltage": ir.Number(220)}, got.Resource.Visible())

	got, err = f.engine.GetResource(context.Background(), GetResourceParams{UID: uid, Type: "Switch", AsUser: admin})
	require.NoError(t, err)
	pw, ok = got.Resource.Field("password")
	require.True(t, ok)
	assert.True(t, pw.Visible)
	assert.Equal(t, ir.String("hunter2"), pw.Value)
	assert.Empty(t, pw.Errors)
}

func TestGetResource_NotFound(t *testing.T) {
	f := newFixture(t, testutil.LoadDefinition(t, switchDef))

	got, err := f.engine.GetResource(context.Background(), GetResourceParams{UID: "99", Type: "Switch", AsUser: admin})
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Nil(t, got.Resource)
	assert.Equal(t, []string{"No Switch with uid '99' exists."}, got.Errors)

	hist, err := f.engine.GetHistory(context.Background(), GetHistoryParams{UID: "99", Type: "Switch", AsUser: admin})
	require.NoError(t, err)
	assert.Equal(t, []string{"No Switch with uid '99' exists."}, hist.Errors)
}

func TestGetResource_DocumentVisibility(t *testing.T) {
	f := newFixture(t, testutil.LoadDefinition(t, documentDef))
	uid := f.create(t, "Document", ir.Object{
		"title":         ir.String("Plans"),
		"text":          ir.String("héllo"),
		"reviewerNotes": ir.String(""),
	})

	tests := []struct {
		name    string
		user    *ir.User
		visible map[string]bool
		reasons map[string]string
	}{
		{
			name:    "author while authoring",
			user:    testutil.User("a", "author"),
			visible: map[string]bool{"title": true, "text": true, "reviewerNotes": false, "textLength": true},
			reasons: map[string]string{
				"reviewerNotes": "You cannot read the reviewer's notes until they have approved this document or returned it to you for revision.",
			},
		},
		{
			name:    "reviewer while authoring",
			user:    testutil.User("r", "reviewer"),
			visible: map[string]bool{"title": false, "text": true, "reviewerNotes": true, "textLength": true},
			reasons: map[string]string{
				"title": "The author has not yet submitted this document to you for review.",
			},
		},
		{
			name:    "reader while authoring",
			user:    testutil.User("x", "reader"),
			visible: map[string]bool{"title": false, "text": true, "reviewerNotes": false, "textLength": true},
			reasons: map[string]string{
				"title":         "You cannot read this document until it has been published.",
				"reviewerNotes": "You are not allowed to read this property.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.GetResource(context.Background(), GetResourceParams{UID: uid, Type: "Document", AsUser: tt.user})
			require.NoError(t, err)
			require.True(t, got.Success, got.Errors)
			assert.Equal(t, "authoring", got.Resource.State)

			for name, want := range tt.visible {
				field, ok := got.Resource.Field(name)
				require.True(t, ok, name)
				assert.Equal(t, want, field.Visible, name)
				if reason, ok := tt.reasons[name]; ok {
					assert.Equal(t, []string{reason}, field.Errors, name)
				}
			}
		})
	}
}

func TestGetResource_CalculatedFieldsLast(t *testing.T) {
	f := newFixture(t, testutil.LoadDefinition(t, documentDef))
	uid := f.create(t, "Document", ir.Object{"title": ir.String("Plans"), "text": ir.String("héllo")})

	got, err := f.engine.GetResource(context.Background(), GetResourceParams{UID: uid, Type: "Document", AsUser: testutil.User("a", "author")})
	require.NoError(t, err)
	require.NotEmpty(t, got.Resource.Fields)

	last := got.Resource.Fields[len(got.Resource.Fields)-1]
	assert.Equal(t, "textLength", last.Name)
	assert.True(t, last.Calculated)
	assert.Equal(t, ir.Number(5), last.Value, "runes, not bytes")

	for _, field := range got.Resource.Fields[:len(got.Resource.Fields)-1] {
		assert.False(t, field.Calculated, field.Name)
	}
}

func TestGetResource_CalculatedPropertyError(t *testing.T) {
	f := newFixture(t, testutil.LoadDefinition(t, documentDef))
	// textLength needs a string; without text the definition is broken
	// for this resource and reads fail loudly.
	uid := f.create(t, "Document", ir.Object{"title": ir.String("Plans")})

	_, err := f.engine.GetResource(context.Background(), GetResourceParams{UID: uid, Type: "Document", AsUser: testutil.User("a", "author")})
	require.Error(t, err)
	assert.True(t, expr.IsTypeError(err))
	assert.Contains(t, err.Error(), "textLength")
}

func TestResourceLevelReadPermissions(t *testing.T) {
	f := newFixture(t, testutil.MustDefinition(t, notesDef))
	ctx := context.Background()
	first := f.create(t, "Secret", ir.Object{"code": ir.String("1234")})
	second := f.create(t, "Secret", ir.Object{"code": ir.String("5678")})
	editor := testutil.User("ed", "editor")

	list, err := f.engine.ListResources(ctx, ListResourcesParams{Type: "Secret", AsUser: editor})
	require.NoError(t, err)
	assert.Empty(t, list.Resources)
	assert.NotNil(t, list.Resources)

	list, err = f.engine.ListResources(ctx, ListResourcesParams{Type: "Secret", AsUser: admin})
	require.NoError(t, err)
	assert.Equal(t, []ir.ResourceRef{
		{UID: first, Type: "Secret"},
		{UID: second, Type: "Secret"},
	}, list.Resources)

	got, err := f.engine.GetResource(ctx, GetResourceParams{UID: first, Type: "Secret", AsUser: editor})
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Nil(t, got.Resource)
	assert.Equal(t, []string{"You are not allowed to read this resource."}, got.Errors)

	hist, err := f.engine.GetHistory(ctx, GetHistoryParams{UID: first, Type: "Secret", AsUser: editor})
	require.NoError(t, err)
	assert.False(t, hist.Success)
	assert.Equal(t, []string{"You are not allowed to read this resource."}, hist.Errors)

	got, err = f.engine.GetResource(ctx, GetResourceParams{UID: first, Type: "Secret", AsUser: admin})
	require.NoError(t, err)
	require.True(t, got.Success)
	assert.Equal(t, ir.Object{"state": ir.String("sealed"), "code": ir.String("1234")}, got.Resource.Visible())
}

func TestGetResource_InvalidUser(t *testing.T) {
	f := newFixture(t, testutil.LoadDefinition(t, switchDef))
	uid := f.create(t, "Switch", nil)

	_, err := f.engine.GetResource(context.Background(), GetResourceParams{UID: uid, Type: "Switch", AsUser: &ir.User{UID: "nobody"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one role")
}
