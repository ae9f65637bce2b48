package inference

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/models"
)

func cond(field, op string, value any) models.Condition {
	return models.Condition{Field: field, Operator: op, Value: value}
}

func TestInferLocal_SpendingOperators(t *testing.T) {
	tests := []struct {
		prompt string
		want   models.Condition
	}{
		{"customers who spent more than 500", cond("totalSpending", ">", 500.0)},
		{"customers who spent over 500", cond("totalSpending", ">", 500.0)},
		{"customers who spent under 500", cond("totalSpending", "<", 500.0)},
		{"customers who spent less than 500", cond("totalSpending", "<", 500.0)},
		{"customers who spent 500", cond("totalSpending", ">=", 500.0)},
		{"Customers Who SPENT More Than $1,250.50", cond("totalSpending", ">", 1250.5)},
		{"people with over 300 in total spend", cond("totalSpending", ">", 300.0)},
	}

	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			doc := InferLocal(tt.prompt)
			require.Len(t, doc.Conditions, 1)
			assert.Equal(t, tt.want, doc.Conditions[0])
			assert.Nil(t, doc.Connectors)
			assert.Nil(t, doc.Provider)
		})
	}
}

func TestInferLocal_VisitOperators(t *testing.T) {
	tests := []struct {
		prompt string
		want   models.Condition
	}{
		{"customers who visited more than 3 times", cond("visitCount", ">", 3.0)},
		{"customers who visited 5 times", cond("visitCount", ">=", 5.0)},
		{"customers who visited less than 2 times", cond("visitCount", "<", 2.0)},
		// "under" only means "<" for spending
		{"customers who came under 4 times", cond("visitCount", ">=", 4.0)},
	}

	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			doc := InferLocal(tt.prompt)
			require.Len(t, doc.Conditions, 1)
			assert.Equal(t, tt.want, doc.Conditions[0])
		})
	}
}

func TestInferLocal_RecencyNormalisedToDays(t *testing.T) {
	doc := InferLocal("customers who have not visited in the last 2 months")
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, cond("lastVisit", "before", 60.0), doc.Conditions[0])

	doc = InferLocal("customers active in the last 10 days")
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, cond("lastVisit", "before", 10.0), doc.Conditions[0])
}

func TestInferLocal_ConnectorOrdering(t *testing.T) {
	doc := InferLocal("spent over 500 and visited more than 3 times")
	require.Len(t, doc.Conditions, 2)
	assert.Equal(t, cond("totalSpending", ">", 500.0), doc.Conditions[0])
	assert.Equal(t, cond("visitCount", ">", 3.0), doc.Conditions[1])
	assert.Equal(t, []string{"AND"}, doc.Connectors)
	assert.Equal(t, "AND", doc.Logic)
}

func TestInferLocal_OrDetection(t *testing.T) {
	doc := InferLocal("spent over 500 or visited more than 3 times")
	require.Len(t, doc.Conditions, 2)
	assert.Equal(t, []string{"OR"}, doc.Connectors)
	assert.Equal(t, "OR", doc.Logic)
}

func TestInferLocal_TextualOrderWinsOverFamilyOrder(t *testing.T) {
	doc := InferLocal("visited more than 3 times or spent over 500")
	require.Len(t, doc.Conditions, 2)
	assert.Equal(t, "visitCount", doc.Conditions[0].Field)
	assert.Equal(t, "totalSpending", doc.Conditions[1].Field)
	assert.Equal(t, []string{"OR"}, doc.Connectors)
}

func TestInferLocal_MixedConnectors(t *testing.T) {
	doc := InferLocal("customers who spent over 1000 or visited more than 10 times and were last seen 3 months ago")
	require.Len(t, doc.Conditions, 3)
	assert.Equal(t, "totalSpending", doc.Conditions[0].Field)
	assert.Equal(t, "visitCount", doc.Conditions[1].Field)
	assert.Equal(t, cond("lastVisit", "before", 90.0), doc.Conditions[2])
	assert.Equal(t, []string{"OR", "AND"}, doc.Connectors)
	// both words appear, so the global logic stays AND
	assert.Equal(t, "AND", doc.Logic)
}

func TestInferLocal_BetweenExpansion(t *testing.T) {
	doc := InferLocal("customers who spent between 100 and 500")
	require.Len(t, doc.Conditions, 2)
	assert.Equal(t, cond("totalSpending", ">=", 100.0), doc.Conditions[0])
	assert.Equal(t, cond("totalSpending", "<=", 500.0), doc.Conditions[1])

	doc = InferLocal("users who visited between 2 and 5 times")
	require.Len(t, doc.Conditions, 2)
	assert.Equal(t, cond("visitCount", ">=", 2.0), doc.Conditions[0])
	assert.Equal(t, cond("visitCount", "<=", 5.0), doc.Conditions[1])

	doc = InferLocal("products priced between 10 and 20")
	assert.Empty(t, doc.Conditions)
}

func TestInferLocal_NounCount(t *testing.T) {
	doc := InferLocal("customers with order count greater than 5")
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, cond("orderCount", ">", 5.0), doc.Conditions[0])

	doc = InferLocal("review count under 2")
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, cond("reviewCount", "<", 2.0), doc.Conditions[0])

	doc = InferLocal("visit count over 3")
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, cond("visitCount", ">", 3.0), doc.Conditions[0])
}

func TestInferLocal_Email(t *testing.T) {
	doc := InferLocal("customers whose email contains gmail.com")
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, cond("email", "contains", "gmail.com"), doc.Conditions[0])

	doc = InferLocal("customers at @acme2.io who spent over 200")
	require.Len(t, doc.Conditions, 2)
	assert.Equal(t, cond("email", "contains", "@acme2.io"), doc.Conditions[0])
	assert.Equal(t, cond("totalSpending", ">", 200.0), doc.Conditions[1])
}

func TestInferLocal_EmailDropsSentencePeriod(t *testing.T) {
	for _, prompt := range []string{
		"Target customers whose email contains gmail.com.",
		"email contains gmail.com... and spent over 100",
	} {
		doc := InferLocal(prompt)
		require.NotEmpty(t, doc.Conditions, prompt)
		assert.Equal(t, cond("email", "contains", "gmail.com"), doc.Conditions[0], prompt)
	}
}

func TestInferLocal_NumbersAreNotShared(t *testing.T) {
	doc := InferLocal("customers who spent over 500 and visited recently")
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, "totalSpending", doc.Conditions[0].Field)

	doc = InferLocal("customers who visited in the last 30 days")
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, cond("lastVisit", "before", 30.0), doc.Conditions[0])
}

func TestInferLocal_NoSignal(t *testing.T) {
	doc := InferLocal("send something nice to everyone")
	assert.NotNil(t, doc.Conditions)
	assert.Empty(t, doc.Conditions)
	assert.Nil(t, doc.Connectors)
	assert.Equal(t, "AND", doc.Logic)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"logic":"AND","conditions":[],"provider":null}`, string(data))
}

var promptFragments = []string{
	"spent over 500",
	"spent under 120",
	"spent 75",
	"visited more than 3 times",
	"came 2 times",
	"in the last 2 months",
	"in the last 14 days",
	"order count greater than 4",
	"email contains shop",
	"spent between 10 and 90",
	"who like coffee",
}

func promptGen() gopter.Gen {
	return gen.SliceOfN(4, gen.IntRange(0, 2*len(promptFragments)-1)).Map(func(picks []int) string {
		parts := make([]string, 0, len(picks))
		for i, p := range picks {
			if i > 0 {
				if p%2 == 0 {
					parts = append(parts, "and")
				} else {
					parts = append(parts, "or")
				}
			}
			parts = append(parts, promptFragments[p/2])
		}
		return "customers who " + strings.Join(parts, " ")
	})
}

func TestInferLocal_PropertyConnectorLength(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("connectors has one entry per adjacent pair", prop.ForAll(
		func(prompt string) bool {
			doc := InferLocal(prompt)
			if len(doc.Conditions) < 2 {
				return doc.Connectors == nil
			}
			return len(doc.Connectors) == len(doc.Conditions)-1
		},
		promptGen(),
	))

	properties.Property("local inference is idempotent", prop.ForAll(
		func(prompt string) bool {
			a, errA := json.Marshal(InferLocal(prompt))
			b, errB := json.Marshal(InferLocal(prompt))
			return errA == nil && errB == nil && string(a) == string(b)
		},
		promptGen(),
	))

	properties.Property("arbitrary text never panics", prop.ForAll(
		func(prompt string) bool {
			doc := InferLocal(prompt)
			return doc.Conditions != nil
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
