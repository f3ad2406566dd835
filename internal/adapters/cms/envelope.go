package cms

import "encoding/xml"

const (
	statusOK       = "OK"
	statusRejected = "REJECTED"
	statusNotFound = "NOT_FOUND"
)

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	SoapNS  string      `xml:"xmlns:soap,attr"`
	Body    requestBody `xml:"soap:Body"`
}

type requestBody struct {
	Content any
}

type createBilling struct {
	XMLName   xml.Name `xml:"urn:swifttrack:cms CreateBilling"`
	OrderID   string   `xml:"OrderId"`
	ClientID  string   `xml:"ClientId"`
	Priority  string   `xml:"Priority,omitempty"`
	ItemCount int      `xml:"ItemCount"`
	Amount    float64  `xml:"Amount"`
}

type voidBilling struct {
	XMLName    xml.Name `xml:"urn:swifttrack:cms VoidBilling"`
	OrderID    string   `xml:"OrderId"`
	BillingRef string   `xml:"BillingRef"`
}

type responseEnvelope struct {
	XMLName xml.Name     `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    responseBody `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type responseBody struct {
	Fault    *soapFault       `xml:"http://schemas.xmlsoap.org/soap/envelope/ Fault"`
	Response *billingResponse `xml:",any"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

// billingResponse matches both CreateBillingResponse and VoidBillingResponse.
type billingResponse struct {
	XMLName    xml.Name
	Status     string `xml:"Status"`
	BillingRef string `xml:"BillingRef"`
	Message    string `xml:"Message"`
}
