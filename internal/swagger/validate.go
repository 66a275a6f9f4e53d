package swagger

// Report lists endpoints that a bot cannot use well.
type Report struct {
	WithoutOperationID []Endpoint `json:"endpoints_without_operation_id"`
	WithoutDescription []Endpoint `json:"endpoints_without_description"`
	WithoutName        []Endpoint `json:"endpoints_without_name"`
	PostWithoutBody    []Endpoint `json:"post_endpoints_without_request_body"`
	AuthType           *string    `json:"auth_type"`
}

// Validate partitions endpoints into the four findings. An endpoint can
// appear under several findings. AuthType is left nil.
func Validate(endpoints []Endpoint) Report {
	r := Report{
		WithoutOperationID: []Endpoint{},
		WithoutDescription: []Endpoint{},
		WithoutName:        []Endpoint{},
		PostWithoutBody:    []Endpoint{},
	}
	for _, e := range endpoints {
		if e.OperationID == "" {
			r.WithoutOperationID = append(r.WithoutOperationID, e)
		}
		if e.Description == "" {
			r.WithoutDescription = append(r.WithoutDescription, e)
		}
		if e.Name == "" {
			r.WithoutName = append(r.WithoutName, e)
		}
		if e.Method == "POST" && !e.HasBody() {
			r.PostWithoutBody = append(r.PostWithoutBody, e)
		}
	}
	return r
}

// OK reports whether nothing was flagged.
func (r Report) OK() bool {
	return len(r.WithoutOperationID) == 0 && len(r.WithoutDescription) == 0 &&
		len(r.WithoutName) == 0 && len(r.PostWithoutBody) == 0
}
