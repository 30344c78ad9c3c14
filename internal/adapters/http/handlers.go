package http

import (
	"context"
	"math"
	"mime"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/core/usecases"
	"github.com/samirrijal/annotation/internal/pkg/wkt"
)

const (
	defaultRadius = 1000.0
	maxRadius     = 500000.0
)

// wktRequest carries geometry text. text/plain bodies are accepted as-is.
type wktRequest struct {
	WKT string `json:"wkt"`
}

type encodeResponse struct {
	WKT       string        `json:"wkt"`
	Anomalies []wkt.Anomaly `json:"anomalies"`
}

type editorRingResponse struct {
	Ring wkt.Ring `json:"ring"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

// readWKT extracts geometry text from a JSON or plain-text body.
func readWKT(c *fiber.Ctx) (string, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMETextPlain) {
		return string(c.Body()), nil
	}
	var req wktRequest
	if err := c.BodyParser(&req); err != nil {
		return "", err
	}
	return req.WKT, nil
}

// ParseGeometryHandler decodes WKT and reports what the decoder saw.
func ParseGeometryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		text, err := readWKT(c)
		if err != nil {
			return errBadRequest(c, "body must be JSON {\"wkt\": ...} or text/plain")
		}
		res, err := deps.Geometry.Parse(c.UserContext(), text)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(res)
	}
}

// NormalizeGeometryHandler returns the canonical encoding of a geometry.
func NormalizeGeometryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		text, err := readWKT(c)
		if err != nil {
			return errBadRequest(c, "body must be JSON {\"wkt\": ...} or text/plain")
		}
		normalized, err := deps.Geometry.Normalize(c.UserContext(), text)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(wktRequest{WKT: normalized})
	}
}

// EncodeGeometryHandler turns editor rings into WKT.
func EncodeGeometryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req usecases.EncodeRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}
		text, anomalies, err := deps.Geometry.Encode(c.UserContext(), req)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(encodeResponse{WKT: text, Anomalies: anomalies})
	}
}

// EditorRingHandler returns the first outer ring of a geometry in the form
// the map editor draws: unclosed, [lat, lon] pairs.
func EditorRingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		text, err := readWKT(c)
		if err != nil {
			return errBadRequest(c, "body must be JSON {\"wkt\": ...} or text/plain")
		}
		ring, err := deps.Geometry.EditorRing(c.UserContext(), text)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(editorRingResponse{Ring: ring})
	}
}

// ListRulesHandler lists non-deleted rules matching the query filters.
func ListRulesHandler(deps *Dependencies) fiber.Handler {
	return listRules(deps, nil)
}

// MyRulesHandler lists rules created by the acting user.
func MyRulesHandler(deps *Dependencies) fiber.Handler {
	return listRules(deps, func(f *domain.RuleFilter, user string) { f.CreatedBy = user })
}

// SupportedRulesHandler lists rules the acting user supports.
func SupportedRulesHandler(deps *Dependencies) fiber.Handler {
	return listRules(deps, func(f *domain.RuleFilter, user string) { f.SupportedBy = user })
}

// ContestedRulesHandler lists rules the acting user contests.
func ContestedRulesHandler(deps *Dependencies) fiber.Handler {
	return listRules(deps, func(f *domain.RuleFilter, user string) { f.ContestedBy = user })
}

// listRules serves every rule listing. A non-nil scope pins the filter to
// the acting user, which then becomes mandatory.
func listRules(deps *Dependencies, scope func(*domain.RuleFilter, string)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter, err := ruleFilterFromQuery(c, deps)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		if scope != nil {
			user := currentUser(c)
			if user == "" {
				return errUnauthorized(c, UserHeader+" header is required")
			}
			scope(&filter, user)
		}

		rules, total, err := deps.Rules.List(c.UserContext(), filter)
		if err != nil {
			return errFromDomain(c, err)
		}

		limit := filter.Limit
		if limit <= 0 {
			limit = usecases.DefaultRuleLimit
		}
		pg := Pagination{Offset: filter.Offset, Limit: min(limit, usecases.MaxRuleLimit), Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: rules, Pagination: pg})
	}
}

type queryError string

func (e queryError) Error() string { return string(e) }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ruleFilterFromQuery reads the camelCase query parameters used by existing
// clients. lat/lon/radius is shorthand for a square geometry filter.
func ruleFilterFromQuery(c *fiber.Ctx, deps *Dependencies) (domain.RuleFilter, error) {
	f := domain.RuleFilter{
		DatasetKey:  c.Query("datasetKey"),
		RulesetID:   c.Query("rulesetId"),
		ProjectID:   c.Query("projectId"),
		YearRange:   c.Query("yearRange"),
		Geometry:    c.Query("geometry"),
		CreatedBy:   c.Query("createdBy", c.Query("username")),
		SupportedBy: c.Query("supportedBy"),
		ContestedBy: c.Query("contestedBy"),
		Comment:     c.Query("comment"),
		Limit:       c.QueryInt("limit", usecases.DefaultRuleLimit),
		Offset:      c.QueryInt("offset", 0),
	}

	if v := c.Query("taxonKey"); v != "" {
		key, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, queryError("taxonKey must be an integer")
		}
		f.TaxonKey = &key
	}
	if v := c.Query("basisOfRecordNegated"); v != "" {
		negated, err := strconv.ParseBool(v)
		if err != nil {
			return f, queryError("basisOfRecordNegated must be true or false")
		}
		f.BasisOfRecordNegated = &negated
	}
	for _, raw := range c.Context().QueryArgs().PeekMulti("basisOfRecord") {
		for _, b := range strings.Split(string(raw), ",") {
			if b = strings.TrimSpace(b); b != "" {
				f.BasisOfRecord = append(f.BasisOfRecord, b)
			}
		}
	}

	if c.Query("lat") != "" || c.Query("lon") != "" {
		if f.Geometry != "" {
			return f, queryError("use either geometry or lat/lon, not both")
		}
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
		if errLat != nil || errLon != nil || !finite(lat) || !finite(lon) {
			return f, queryError("lat and lon must both be numbers")
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return f, queryError("lat must be within ±90 and lon within ±180")
		}
		radius := c.QueryFloat("radius", defaultRadius)
		if !finite(radius) || radius <= 0 || radius > maxRadius {
			return f, queryError("radius must be between 1 and 500000 meters")
		}
		env, err := deps.Geometry.Envelope(lat, lon, radius)
		if err != nil {
			return f, queryError("no search area around lat/lon")
		}
		f.Geometry = env
	}
	return f, nil
}

// GetRuleHandler returns a rule by ID, deleted rules included.
func GetRuleHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rule, err := deps.Rules.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(rule)
	}
}

// CreateRuleHandler stores a new rule owned by the acting user.
func CreateRuleHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in domain.Rule
		if err := c.BodyParser(&in); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}
		rule, err := deps.Rules.Create(c.UserContext(), currentUser(c), in)
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Location("/v1/rules/" + rule.ID)
		return c.Status(fiber.StatusCreated).JSON(rule)
	}
}

// UpdateRuleHandler replaces the editable fields of a rule.
func UpdateRuleHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in domain.Rule
		if err := c.BodyParser(&in); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}
		id := c.Params("id")
		if in.ID != "" && in.ID != id {
			return errBadRequest(c, "body id does not match path id")
		}
		rule, err := deps.Rules.Update(c.UserContext(), currentUser(c), id, in)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(rule)
	}
}

// DeleteRuleHandler logically deletes a rule.
func DeleteRuleHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Rules.Delete(c.UserContext(), currentUser(c), c.Params("id")); err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// voteOp is a RuleService vote method taken as a method expression.
type voteOp func(s *usecases.RuleService, ctx context.Context, user, id string) (*domain.Rule, error)

func voteHandler(deps *Dependencies, op voteOp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rule, err := op(deps.Rules, c.UserContext(), currentUser(c), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(rule)
	}
}

// SupportRuleHandler records the acting user's support.
func SupportRuleHandler(deps *Dependencies) fiber.Handler {
	return voteHandler(deps, (*usecases.RuleService).Support)
}

// RemoveSupportHandler withdraws the acting user's support.
func RemoveSupportHandler(deps *Dependencies) fiber.Handler {
	return voteHandler(deps, (*usecases.RuleService).RemoveSupport)
}

// ContestRuleHandler records the acting user's objection.
func ContestRuleHandler(deps *Dependencies) fiber.Handler {
	return voteHandler(deps, (*usecases.RuleService).Contest)
}

// RemoveContestHandler withdraws the acting user's objection.
func RemoveContestHandler(deps *Dependencies) fiber.Handler {
	return voteHandler(deps, (*usecases.RuleService).RemoveContest)
}

// ListCommentsHandler returns the live comments of a rule, oldest first.
func ListCommentsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		comments, err := deps.Rules.ListComments(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(comments)
	}
}

// AddCommentHandler attaches a comment to a rule.
func AddCommentHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req commentRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body: "+err.Error())
		}
		comment, err := deps.Rules.AddComment(c.UserContext(), currentUser(c), c.Params("id"), req.Comment)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(comment)
	}
}

// DeleteCommentHandler removes a comment written by the acting user.
func DeleteCommentHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := deps.Rules.DeleteComment(c.UserContext(), currentUser(c), c.Params("id"), c.Params("commentId"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// RuleMetricsHandler aggregates rule counts. username defaults to the acting user.
func RuleMetricsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter := domain.MetricsFilter{
			Username:   c.Query("username", currentUser(c)),
			DatasetKey: c.Query("datasetKey"),
			RulesetID:  c.Query("rulesetId"),
			ProjectID:  c.Query("projectId"),
		}
		if v := c.Query("taxonKey"); v != "" {
			key, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errBadRequest(c, "taxonKey must be an integer")
			}
			filter.TaxonKey = &key
		}
		m, err := deps.Rules.Metrics(c.UserContext(), filter)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(m)
	}
}

// RuleGeoJSONHandler exports a rule as a GeoJSON Feature.
func RuleGeoJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data, err := deps.Rules.GeoJSON(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(data)
	}
}

// RuleKMLHandler exports a rule as a KML document.
func RuleKMLHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data, err := deps.Rules.KML(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Set(fiber.HeaderContentType, "application/vnd.google-earth.kml+xml")
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
			"filename": "rule-" + c.Params("id") + ".kml",
		}))
		return c.Send(data)
	}
}
