package extraction

// Request is the payload posted to the extraction service
type Request struct {
	Model        string   `json:"model"`
	UniqueID     string   `json:"uniqueId"`
	From         string   `json:"from"`
	To           []string `json:"to"`
	Cc           []string `json:"cc"`
	Subject      string   `json:"subject"`
	HTMLPart     string   `json:"htmlPart"`
	TimeReceived string   `json:"timeReceived"`
}

// Response is the extraction service reply, one quote per detected trade
type Response struct {
	Quotes []Quote `json:"quotes"`
}

type Quote struct {
	Check    Check     `json:"check"`
	Contract *Contract `json:"contract"`
}

type Check struct {
	IsSuccess        bool         `json:"isSuccess"`
	Errors           []CheckError `json:"errors"`
	Message          string       `json:"message"`
	MessageToDisplay string       `json:"messageToDisplay"`
	Type             string       `json:"type"`
}

type CheckError struct {
	Code   int     `json:"code"`
	Fields []Field `json:"fields"`
}

type Field struct {
	InitialName string `json:"initialName"`
	ModelName   string `json:"modelName"`
}

// Contract holds the trade economics of one quote. Empty strings and nil
// numbers are fields the model did not fill.
type Contract struct {
	ClientWay        string   `json:"clientWay"`
	Currency         string   `json:"currency"`
	IsinCode         string   `json:"isinCode"`
	SecurityCode     string   `json:"securityCode"`
	Notional         *float64 `json:"notional"`
	Price            *float64 `json:"price"`
	Quantity         *float64 `json:"quantity"`
	TradeDate        string   `json:"tradeDate"`
	SettlementDate   string   `json:"settlementDate"`
	SchemaIdentifier string   `json:"schemaIdentifier"`
	SchemaType       string   `json:"schemaType"`
	SchemaVersion    string   `json:"schemaVersion"`
	SolveHeader      string   `json:"solveHeader"`
}

// Result is the outcome for one quote. Contract is only set on success.
type Result struct {
	Success  bool
	Errors   []ResultError
	Message  string
	Contract *Contract
}

// ResultError is a structured failure reported for one quote
type ResultError struct {
	Code   int
	Fields []string
}

// toResult maps a wire quote to a Result
func (q Quote) toResult() Result {
	r := Result{
		Success: q.Check.IsSuccess,
		Message: q.Check.MessageToDisplay,
	}
	if r.Message == "" {
		r.Message = q.Check.Message
	}
	for _, e := range q.Check.Errors {
		re := ResultError{Code: e.Code}
		for _, f := range e.Fields {
			name := f.ModelName
			if name == "" {
				name = f.InitialName
			}
			re.Fields = append(re.Fields, name)
		}
		r.Errors = append(r.Errors, re)
	}
	if r.Success {
		r.Contract = q.Contract
	}
	return r
}
