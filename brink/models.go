package brink

import (
	"encoding/json"
	"fmt"
)

type System struct {
	SystemID  int    `json:"system_id"`
	GatewayID int    `json:"gateway_id"`
	Name      string `json:"name"`
}

type ParameterDescriptor struct {
	Name    string      `json:"name"`
	ValueID int         `json:"value_id"`
	Value   string      `json:"value"`
	Values  []ListValue `json:"values"`
}

type ListValue struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

type Descriptions struct {
	Ventilation ParameterDescriptor `json:"ventilation"`
	Mode        ParameterDescriptor `json:"mode"`
}

// Lookup returns the selectable option with the given value.
func (p ParameterDescriptor) Lookup(value string) (ListValue, bool) {
	for _, v := range p.Values {
		if v.Value == value {
			return v, true
		}
	}

	return ListValue{}, false
}

// LookupText returns the selectable option with the given display text.
func (p ParameterDescriptor) LookupText(text string) (ListValue, bool) {
	for _, v := range p.Values {
		if v.Text == text {
			return v, true
		}
	}

	return ListValue{}, false
}

// WithValue returns a copy of p with Value replaced.
func (p ParameterDescriptor) WithValue(value string) ParameterDescriptor {
	p.Value = value
	return p
}

// Texts returns the display texts of all selectable options, in portal order.
func (p ParameterDescriptor) Texts() []string {
	texts := make([]string, 0, len(p.Values))
	for _, v := range p.Values {
		texts = append(texts, v.Text)
	}

	return texts
}

type loginRequest struct {
	UserName string `json:"UserName"`
	Password string `json:"Password"`
}

type writeRequest struct {
	GatewayID                     int                   `json:"GatewayId"`
	SystemID                      int                   `json:"SystemId"`
	WriteParameterValues          []writeParameterValue `json:"WriteParameterValues"`
	SendInOneBundle               bool                  `json:"SendInOneBundle"`
	DependendReadValuesAfterWrite []int                 `json:"DependendReadValuesAfterWrite"`
}

type writeParameterValue struct {
	ValueID int    `json:"ValueId"`
	Value   string `json:"Value"`
}

type rawSystem struct {
	ID        int    `json:"id"`
	GatewayID int    `json:"gatewayId"`
	Name      string `json:"name"`
}

type parameterValuesResponse struct {
	MenuItems menuItems `json:"menuItems"`
}

// menuItems is either a single menu object or a list of them, depending on
// the portal version. Only the first menu entry is used.
type menuItems json.RawMessage

func (m *menuItems) UnmarshalJSON(data []byte) error {
	*m = append((*m)[:0], data...)
	return nil
}

type menuItem struct {
	Pages []page `json:"pages"`
}

func (m menuItems) pages() ([]page, error) {
	if len(m) == 0 || string(m) == "null" {
		return nil, fmt.Errorf("%w: missing menuItems", ErrUnexpectedResponse)
	}

	var item menuItem
	if m[0] == '[' {
		var items []menuItem
		if err := json.Unmarshal(m, &items); err != nil {
			return nil, fmt.Errorf("%w: menuItems: %v", ErrUnexpectedResponse, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: empty menuItems", ErrUnexpectedResponse)
		}
		item = items[0]
	} else if err := json.Unmarshal(m, &item); err != nil {
		return nil, fmt.Errorf("%w: menuItems: %v", ErrUnexpectedResponse, err)
	}

	return item.Pages, nil
}

type page struct {
	ParameterDescriptors []rawParameterDescriptor `json:"parameterDescriptors"`
}

type rawParameterDescriptor struct {
	Name      string        `json:"name"`
	ValueID   int           `json:"valueId"`
	Value     string        `json:"value"`
	ListItems []rawListItem `json:"listItems"`
}

type rawListItem struct {
	Value        string `json:"value"`
	DisplayText  string `json:"displayText"`
	IsSelectable bool   `json:"isSelectable"`
}

func (r rawParameterDescriptor) descriptor() ParameterDescriptor {
	values := make([]ListValue, 0, len(r.ListItems))
	for _, item := range r.ListItems {
		// Options the unit does not support right now are listed but not selectable
		if !item.IsSelectable {
			continue
		}

		values = append(values, ListValue{
			Value: item.Value,
			Text:  item.DisplayText,
		})
	}

	return ParameterDescriptor{
		Name:    r.Name,
		ValueID: r.ValueID,
		Value:   r.Value,
		Values:  values,
	}
}
