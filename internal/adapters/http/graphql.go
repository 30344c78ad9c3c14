package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/core/usecases"
	"github.com/samirrijal/annotation/internal/pkg/wkt"
)

// buildSchema creates the read-only GraphQL schema wired to our services.
// Writes stay on REST where the acting user is explicit.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lat": &graphql.Field{Type: graphql.Float},
			"min_lon": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
			"max_lon": &graphql.Field{Type: graphql.Float},
		},
	})

	anomalyType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Anomaly",
		Fields: graphql.Fields{
			"kind": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return string(p.Source.(wkt.Anomaly).Kind), nil
				},
			},
			"offset": &graphql.Field{Type: graphql.Int},
			"detail": &graphql.Field{Type: graphql.String},
		},
	})

	geometryInfoType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeometryInfo",
		Fields: graphql.Fields{
			"type":        &graphql.Field{Type: graphql.String},
			"normalized":  &graphql.Field{Type: graphql.String},
			"anomalies":   &graphql.Field{Type: graphql.NewList(anomalyType)},
			"bounds":      &graphql.Field{Type: boundsType},
			"points":      &graphql.Field{Type: graphql.Int},
			"perimeter_m": &graphql.Field{Type: graphql.Float},
		},
	})

	ruleType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Rule",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"taxon_key":   &graphql.Field{Type: graphql.Float}, // int64 keys overflow GraphQL Int
			"dataset_key": &graphql.Field{Type: graphql.String},
			"geometry":    &graphql.Field{Type: graphql.String},
			"annotation": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return string(p.Source.(domain.Rule).Annotation), nil
				},
			},
			"basis_of_record":         &graphql.Field{Type: graphql.NewList(graphql.String)},
			"basis_of_record_negated": &graphql.Field{Type: graphql.Boolean},
			"year_range":              &graphql.Field{Type: graphql.String},
			"ruleset_id":              &graphql.Field{Type: graphql.String},
			"project_id":              &graphql.Field{Type: graphql.String},
			"supported_by":            &graphql.Field{Type: graphql.NewList(graphql.String)},
			"contested_by":            &graphql.Field{Type: graphql.NewList(graphql.String)},
			"created":                 &graphql.Field{Type: graphql.DateTime},
			"created_by":              &graphql.Field{Type: graphql.String},
			"deleted":                 &graphql.Field{Type: graphql.DateTime},
		},
	})

	commentType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Comment",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"rule_id":    &graphql.Field{Type: graphql.String},
			"comment":    &graphql.Field{Type: graphql.String},
			"created":    &graphql.Field{Type: graphql.DateTime},
			"created_by": &graphql.Field{Type: graphql.String},
		},
	})

	metricsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RuleMetrics",
		Fields: graphql.Fields{
			"username":      &graphql.Field{Type: graphql.String},
			"rule_count":    &graphql.Field{Type: graphql.Int},
			"taxon_count":   &graphql.Field{Type: graphql.Int},
			"dataset_count": &graphql.Field{Type: graphql.Int},
			"project_count": &graphql.Field{Type: graphql.Int},
			"support_count": &graphql.Field{Type: graphql.Int},
			"contest_count": &graphql.Field{Type: graphql.Int},
			"comment_count": &graphql.Field{Type: graphql.Int},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"rule": &graphql.Field{
				Type:        ruleType,
				Description: "Get a rule by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					rule, err := deps.Rules.Get(p.Context, p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					return *rule, nil
				},
			},
			"rules": &graphql.Field{
				Type:        graphql.NewList(ruleType),
				Description: "List non-deleted rules",
				Args: graphql.FieldConfigArgument{
					"taxon_key":   &graphql.ArgumentConfig{Type: graphql.Float},
					"dataset_key": &graphql.ArgumentConfig{Type: graphql.String},
					"project_id":  &graphql.ArgumentConfig{Type: graphql.String},
					"created_by":  &graphql.ArgumentConfig{Type: graphql.String},
					"geometry":    &graphql.ArgumentConfig{Type: graphql.String},
					"limit":       &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: usecases.DefaultRuleLimit},
					"offset":      &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					filter := domain.RuleFilter{
						Limit:  p.Args["limit"].(int),
						Offset: p.Args["offset"].(int),
					}
					if v, ok := p.Args["taxon_key"].(float64); ok {
						key := int64(v)
						filter.TaxonKey = &key
					}
					filter.DatasetKey, _ = p.Args["dataset_key"].(string)
					filter.ProjectID, _ = p.Args["project_id"].(string)
					filter.CreatedBy, _ = p.Args["created_by"].(string)
					filter.Geometry, _ = p.Args["geometry"].(string)
					rules, _, err := deps.Rules.List(p.Context, filter)
					return rules, err
				},
			},
			"ruleComments": &graphql.Field{
				Type:        graphql.NewList(commentType),
				Description: "Live comments of a rule, oldest first",
				Args: graphql.FieldConfigArgument{
					"rule_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Rules.ListComments(p.Context, p.Args["rule_id"].(string))
				},
			},
			"ruleMetrics": &graphql.Field{
				Type:        metricsType,
				Description: "Rule counts, optionally for one user",
				Args: graphql.FieldConfigArgument{
					"username":   &graphql.ArgumentConfig{Type: graphql.String},
					"project_id": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					var filter domain.MetricsFilter
					filter.Username, _ = p.Args["username"].(string)
					filter.ProjectID, _ = p.Args["project_id"].(string)
					return deps.Rules.Metrics(p.Context, filter)
				},
			},
			"parseGeometry": &graphql.Field{
				Type:        geometryInfoType,
				Description: "Decode a WKT polygon or multipolygon",
				Args: graphql.FieldConfigArgument{
					"wkt": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Geometry.Parse(p.Context, p.Args["wkt"].(string))
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil || req.Query == "" {
			return errBadRequest(c, "body must be JSON with a query")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
