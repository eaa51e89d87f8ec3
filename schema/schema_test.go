package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nspcc-dev/docstate/identifier"
	"github.com/stretchr/testify/require"
)

var testContractID = identifier.MustDecode("2twstHkD3uYEogneYppHDCfnnfKxDk6YeJrKt3qNwtcW")

func loadTestTypes(t testing.TB) map[string]*DocumentType {
	raw, err := os.ReadFile(filepath.Join("testdata", "claims.json"))
	require.NoError(t, err)

	types, err := ParseDocumentTypes(testContractID, raw)
	require.NoError(t, err)

	return types
}

func TestParseDocumentTypes(t *testing.T) {
	types := loadTestTypes(t)
	require.Len(t, types, 3)

	tasks := types["Tasks"]
	require.Equal(t, "Tasks", tasks.Name)
	require.Equal(t, testContractID, tasks.ContractID)
	require.False(t, tasks.AdditionalProperties)
	require.True(t, tasks.DocumentsMutable)
	require.False(t, tasks.IsTransferable())
	require.False(t, tasks.AllowsDirectPurchase())

	fields := tasks.Fields()
	require.Len(t, fields, 6)
	for i, name := range []string{"title", "description", "url", "assignee", "projectId", "status"} {
		require.Equal(t, name, fields[i].Name)
		require.Equal(t, i, fields[i].Position)
	}

	status, ok := tasks.Field("status")
	require.True(t, ok)
	require.Equal(t, KindEnum, status.Kind)
	require.Equal(t, []string{"pending", "in_progress", "completed", "cancelled", "paid"}, status.Enum)

	assignee, ok := tasks.FieldByPosition(3)
	require.True(t, ok)
	require.Equal(t, "assignee", assignee.Name)
	require.Equal(t, KindByteArray, assignee.Kind)
	require.Equal(t, 32, assignee.MinItems)
	require.Equal(t, 32, assignee.MaxItems)

	_, ok = tasks.FieldByPosition(42)
	require.False(t, ok)

	require.Equal(t, []string{"title", "projectId", FieldCreatedAt, FieldUpdatedAt}, tasks.Required())

	claim := types["Claim"]
	require.True(t, claim.IsTransferable())
	require.True(t, claim.AllowsDirectPurchase())
	amount, ok := claim.Field("amountCredits")
	require.True(t, ok)
	require.Equal(t, KindNumber, amount.Kind)
}

func TestParseDocumentTypeMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not an object":         `[]`,
		"no types":              `{}`,
		"wrong type":            `{"A":{"type":"array","properties":{}}}`,
		"missing position":      `{"A":{"type":"object","properties":{"a":{"type":"string"}}}}`,
		"negative position":     `{"A":{"type":"object","properties":{"a":{"type":"string","position":-1}}}}`,
		"duplicated position":   `{"A":{"type":"object","properties":{"a":{"type":"string","position":0},"b":{"type":"number","position":0}}}}`,
		"unsupported type":      `{"A":{"type":"object","properties":{"a":{"type":"object","position":0}}}}`,
		"non-byte array":        `{"A":{"type":"object","properties":{"a":{"type":"array","position":0}}}}`,
		"inverted items":        `{"A":{"type":"object","properties":{"a":{"type":"array","byteArray":true,"minItems":3,"maxItems":2,"position":0}}}}`,
		"inverted lengths":      `{"A":{"type":"object","properties":{"a":{"type":"string","minLength":3,"maxLength":2,"position":0}}}}`,
		"enum on number":        `{"A":{"type":"object","properties":{"a":{"type":"number","enum":["x"],"position":0}}}}`,
		"undeclared required":   `{"A":{"type":"object","properties":{"a":{"type":"string","position":0}},"required":["b"]}}`,
		"unknown system field":  `{"A":{"type":"object","properties":{},"required":["$foo"]}}`,
		"system field declared": `{"A":{"type":"object","properties":{"$price":{"type":"number","position":0}}}}`,
		"bad transferable":      `{"A":{"type":"object","properties":{},"transferable":7}}`,
		"bad trade mode":        `{"A":{"type":"object","properties":{},"tradeMode":2}}`,
		"fractional position":   `{"A":{"type":"object","properties":{"a":{"type":"string","position":0.5}}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocumentTypes(testContractID, []byte(raw))
			require.ErrorIs(t, err, ErrMalformedSchema)
		})
	}
}

func TestValidateProperties(t *testing.T) {
	types := loadTestTypes(t)
	claim := types["Claim"]
	tasks := types["Tasks"]

	taskID := make([]any, 32)
	for i := range taskID {
		taskID[i] = float64(i)
	}

	valid, err := claim.NormalizeProperties(map[string]any{
		"taskId":        taskID,
		"amountCredits": 20,
		"amountUSD":     float64(500),
	})
	require.NoError(t, err)
	require.NoError(t, claim.ValidateProperties(valid))
	require.IsType(t, []byte(nil), valid["taskId"])
	require.EqualValues(t, 20, valid["amountCredits"])
	require.IsType(t, int64(0), valid["amountUSD"])

	for _, tc := range []struct {
		name       string
		typ        *DocumentType
		props      map[string]any
		field      string
		constraint Constraint
	}{
		{
			name:       "missing required",
			typ:        claim,
			props:      map[string]any{"taskId": make([]byte, 32), "amountCredits": int64(1)},
			field:      "amountUSD",
			constraint: ConstraintRequired,
		},
		{
			name:       "unknown field",
			typ:        claim,
			props:      map[string]any{"taskId": make([]byte, 32), "amountCredits": int64(1), "amountUSD": int64(1), "extra": "x"},
			field:      "extra",
			constraint: ConstraintUnknown,
		},
		{
			name:       "short byte array",
			typ:        claim,
			props:      map[string]any{"taskId": make([]byte, 31), "amountCredits": int64(1), "amountUSD": int64(1)},
			field:      "taskId",
			constraint: ConstraintMinItems,
		},
		{
			name:       "long byte array",
			typ:        claim,
			props:      map[string]any{"taskId": make([]byte, 33), "amountCredits": int64(1), "amountUSD": int64(1)},
			field:      "taskId",
			constraint: ConstraintMaxItems,
		},
		{
			name:       "oversized string",
			typ:        tasks,
			props:      map[string]any{"title": strings.Repeat("a", 64), "projectId": make([]byte, 32)},
			field:      "title",
			constraint: ConstraintMaxLength,
		},
		{
			name:       "unknown system field",
			typ:        claim,
			props:      map[string]any{"taskId": make([]byte, 32), "amountCredits": int64(1), "amountUSD": int64(1), "$owner": "x"},
			field:      "$owner",
			constraint: ConstraintUnknown,
		},
		{
			name:       "enum mismatch",
			typ:        tasks,
			props:      map[string]any{"title": "t", "projectId": make([]byte, 32), "status": "done"},
			field:      "status",
			constraint: ConstraintEnum,
		},
		{
			name:       "wrong type",
			typ:        tasks,
			props:      map[string]any{"title": 1, "projectId": make([]byte, 32)},
			field:      "title",
			constraint: ConstraintType,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.typ.ValidateProperties(tc.props)
			require.ErrorIs(t, err, ErrValidation)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tc.typ.Name, ve.DocumentType)
			require.Equal(t, tc.field, ve.Field)
			require.Equal(t, tc.constraint, ve.Constraint)
		})
	}

	t.Run("multibyte string fits", func(t *testing.T) {
		require.NoError(t, tasks.ValidateProperties(map[string]any{
			"title":     strings.Repeat("ж", 63),
			"projectId": make([]byte, 32),
		}))
	})

	t.Run("system fields are skipped", func(t *testing.T) {
		require.NoError(t, tasks.ValidateProperties(map[string]any{
			"title":     "t",
			"projectId": make([]byte, 32),
			FieldPrice:  uint64(10),
		}))
	})
}

func TestNormalizeProperties(t *testing.T) {
	claim := loadTestTypes(t)["Claim"]

	var props map[string]any
	dec := json.NewDecoder(strings.NewReader(`{"taskId":[1,2,3],"amountCredits":20,"amountUSD":1.25}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&props))

	res, err := claim.NormalizeProperties(props)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, res["taskId"])
	require.Equal(t, int64(20), res["amountCredits"])
	require.Equal(t, 1.25, res["amountUSD"])

	_, err = claim.NormalizeProperties(map[string]any{"taskId": []any{256}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = claim.NormalizeProperties(map[string]any{"amountUSD": "500"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateSystemFields(t *testing.T) {
	claim := loadTestTypes(t)["Claim"]

	require.NoError(t, claim.ValidateSystemFields(func(string) bool { return true }))

	err := claim.ValidateSystemFields(func(name string) bool { return name != FieldUpdatedAt })
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, FieldUpdatedAt, ve.Field)
}

func TestDataContract(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "claims.json"))
	require.NoError(t, err)

	owner := identifier.MustDecode("B7kcE1juMBWEWkuYRJhVdAE2e6RaevrGxRsa1DrLCpQH")

	c, err := NewDataContract(testContractID, owner, 1, raw)
	require.NoError(t, err)
	require.Equal(t, []string{"Claim", "Project", "Tasks"}, c.DocumentTypeNames())

	_, err = c.DocumentType("Unknown")
	require.ErrorIs(t, err, ErrUnknownDocumentType)

	j, err := json.Marshal(c)
	require.NoError(t, err)

	c2, err := ParseDataContract(j)
	require.NoError(t, err)
	require.Equal(t, c.ID, c2.ID)
	require.Equal(t, c.OwnerID, c2.OwnerID)
	require.Equal(t, c.Version, c2.Version)
	require.Equal(t, c.DocumentTypeNames(), c2.DocumentTypeNames())

	_, err = ParseDataContract([]byte(`{"ownerId":"` + owner.String() + `","documentSchemas":{}}`))
	require.ErrorIs(t, err, ErrMalformedSchema)
}
