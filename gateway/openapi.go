package gateway

import (
	"sort"
	"strconv"
)

// OpenAPIDocument is a minimal OpenAPI 3.0 document, following the shape of
// the teacher's module/openapi_generator.go but driven by this package's
// Registry instead of a static workflow config scan.
type OpenAPIDocument struct {
	OpenAPI    string                      `json:"openapi"`
	Info       DocumentInfo                `json:"info"`
	Paths      map[string]*PathItem        `json:"paths"`
	Components *ComponentsObject           `json:"components,omitempty"`
}

type DocumentInfo struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

func DefaultDocumentInfo() DocumentInfo {
	return DocumentInfo{Title: "foundrykit API", Version: "1.0.0"}
}

type PathItem struct {
	Get     *Operation `json:"get,omitempty"`
	Post    *Operation `json:"post,omitempty"`
	Put     *Operation `json:"put,omitempty"`
	Delete  *Operation `json:"delete,omitempty"`
	Patch   *Operation `json:"patch,omitempty"`
	Options *Operation `json:"options,omitempty"`
	Head    *Operation `json:"head,omitempty"`
}

type Operation struct {
	Summary     string                  `json:"summary,omitempty"`
	Description string                  `json:"description,omitempty"`
	OperationID string                  `json:"operationId,omitempty"`
	Tags        []string                `json:"tags,omitempty"`
	Parameters  []Parameter             `json:"parameters,omitempty"`
	RequestBody *RequestBody            `json:"requestBody,omitempty"`
	Responses   map[string]*ResponseObj `json:"responses"`
	Security    []map[string][]string   `json:"security,omitempty"`

	VendorRateLimitRPS   *float64 `json:"x-rate-limit-rps,omitempty"`
	VendorRateLimitBurst *int     `json:"x-rate-limit-burst,omitempty"`
	VendorInFlightLimit  *int     `json:"x-in-flight-limit,omitempty"`
}

type Parameter struct {
	Name     string  `json:"name"`
	In       string  `json:"in"`
	Required bool    `json:"required,omitempty"`
	Schema   *Schema `json:"schema,omitempty"`
}

type RequestBody struct {
	Required bool                    `json:"required,omitempty"`
	Content  map[string]*MediaObject `json:"content,omitempty"`
}

type ResponseObj struct {
	Description string                  `json:"description"`
	Content     map[string]*MediaObject `json:"content,omitempty"`
}

type MediaObject struct {
	Schema *Schema `json:"schema,omitempty"`
}

type Schema struct {
	Type       string             `json:"type,omitempty"`
	Format     string             `json:"format,omitempty"`
	Ref        string             `json:"$ref,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

type ComponentsObject struct {
	Schemas         map[string]*Schema         `json:"schemas,omitempty"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty"`
}

type SecurityScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme"`
}

// BuildOpenAPIDocument emits a document from reg's registered operations and
// schemas, following spec §6's emission contract.
func BuildOpenAPIDocument(reg *Registry, info DocumentInfo) *OpenAPIDocument {
	doc := &OpenAPIDocument{
		OpenAPI: "3.0.3",
		Info:    info,
		Paths:   make(map[string]*PathItem),
	}

	hasSecurity := false

	for _, op := range reg.Snapshot() {
		item, ok := doc.Paths[op.Path]
		if !ok {
			item = &PathItem{}
			doc.Paths[op.Path] = item
		}

		apiOp := &Operation{
			Summary:     op.Summary,
			Description: op.Description,
			OperationID: op.OperationID,
			Tags:        op.Tags,
			Parameters:  buildParameters(op.Params),
			RequestBody: buildRequestBody(op.RequestBody),
			Responses:   buildResponses(op.Responses),
		}

		if op.RateLimit != nil {
			rps := op.RateLimit.RPS
			burst := op.RateLimit.Burst
			inFlight := op.RateLimit.InFlight
			apiOp.VendorRateLimitRPS = &rps
			apiOp.VendorRateLimitBurst = &burst
			apiOp.VendorInFlightLimit = &inFlight
		}

		if op.SecRequirement != nil {
			apiOp.Security = []map[string][]string{{"bearerAuth": {}}}
			hasSecurity = true
		}

		assignOperation(item, op.Method, apiOp)
	}

	schemas := reg.SchemaSnapshot()
	if len(schemas) > 0 || hasSecurity {
		doc.Components = &ComponentsObject{}
		if len(schemas) > 0 {
			doc.Components.Schemas = make(map[string]*Schema, len(schemas))
			names := make([]string, 0, len(schemas))
			for name := range schemas {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				doc.Components.Schemas[name] = schemaDocToSchema(schemas[name])
			}
		}
		if hasSecurity {
			doc.Components.SecuritySchemes = map[string]SecurityScheme{
				"bearerAuth": {Type: "http", Scheme: "bearer"},
			}
		}
	}

	return doc
}

func assignOperation(item *PathItem, method string, op *Operation) {
	switch method {
	case "GET":
		item.Get = op
	case "POST":
		item.Post = op
	case "PUT":
		item.Put = op
	case "DELETE":
		item.Delete = op
	case "PATCH":
		item.Patch = op
	case "OPTIONS":
		item.Options = op
	case "HEAD":
		item.Head = op
	}
}

func buildParameters(params []ParamSpec) []Parameter {
	if len(params) == 0 {
		return nil
	}
	out := make([]Parameter, 0, len(params))
	for _, p := range params {
		required := p.Required
		if p.In == "path" {
			required = true
		}
		out = append(out, Parameter{
			Name:     p.Name,
			In:       p.In,
			Required: required,
			Schema:   &Schema{Type: inferredSchemaType(p.Schema)},
		})
	}
	return out
}

func inferredSchemaType(kind string) string {
	switch kind {
	case "integer", "number", "boolean":
		return kind
	default:
		return "string"
	}
}

// buildRequestBody emits exactly one of the four shapes spec §6 allows:
// schema ref, multipart binary field, raw octet stream, or empty inline
// object.
func buildRequestBody(rb *RequestBodySpec) *RequestBody {
	if rb == nil {
		return nil
	}
	body := &RequestBody{Required: rb.Required}
	switch {
	case rb.SchemaRef != "":
		body.Content = map[string]*MediaObject{
			"application/json": {Schema: &Schema{Ref: "#/components/schemas/" + rb.SchemaRef}},
		}
	case rb.MultipartRef != "":
		body.Content = map[string]*MediaObject{
			"multipart/form-data": {Schema: &Schema{
				Type:       "object",
				Properties: map[string]*Schema{rb.MultipartRef: {Type: "string", Format: "binary"}},
			}},
		}
	case rb.RawOctet:
		body.Content = map[string]*MediaObject{
			"application/octet-stream": {Schema: &Schema{Type: "string", Format: "binary"}},
		}
	default:
		body.Content = map[string]*MediaObject{
			"application/json": {Schema: &Schema{Type: "object"}},
		}
	}
	return body
}

func buildResponses(responses []ResponseSpec) map[string]*ResponseObj {
	out := make(map[string]*ResponseObj, len(responses))
	for _, r := range responses {
		status := httpStatusKey(r.Status)
		ct := r.ContentType
		if ct == "" && r.SchemaRef != "" {
			ct = "application/json"
		}
		resp := &ResponseObj{Description: r.Description}
		if ct != "" {
			var schema *Schema
			if isJSONLike(ct) {
				if r.SchemaRef != "" {
					schema = &Schema{Ref: "#/components/schemas/" + r.SchemaRef}
				} else {
					schema = &Schema{Type: "object"}
				}
			} else {
				schema = &Schema{Type: "string", Format: ct}
			}
			resp.Content = map[string]*MediaObject{ct: {Schema: schema}}
		}
		out[status] = resp
	}
	return out
}

func isJSONLike(ct string) bool {
	return ct == "application/json" || ct == "application/problem+json"
}

func httpStatusKey(status int) string {
	if status == 0 {
		return "default"
	}
	return strconv.Itoa(status)
}

func schemaDocToSchema(doc SchemaDoc) *Schema {
	s := &Schema{Type: doc.Type, Format: doc.Format, Required: doc.Required}
	if len(doc.Properties) > 0 {
		s.Properties = make(map[string]*Schema, len(doc.Properties))
		for k, v := range doc.Properties {
			s.Properties[k] = schemaDocToSchema(v)
		}
	}
	if doc.Items != nil {
		s.Items = schemaDocToSchema(*doc.Items)
	}
	return s
}
