package invoices

import "fmt"

// protocols maps a currency to the payment-protocol scheme used in option
// URIs. Currencies outside the table fall back to "pay".
var protocols = map[string]string{
	"DASH":  "dash",
	"ZEC":   "zcash",
	"BTC":   "bitcoin",
	"LTC":   "litecoin",
	"ETH":   "ethereum",
	"XMR":   "monero",
	"DOGE":  "dogecoin",
	"BCH":   "bitcoincash",
	"XRP":   "ripple",
	"ZEN":   "horizen",
	"SMART": "smartcash",
	"RVN":   "ravencoin",
	"BSV":   "pay",
}

// ComputeURI renders the payment-protocol URI for one option:
// "<protocol>:?r=<base_url>/r/<uid>".
func ComputeURI(baseURL, currency, uid string) string {
	protocol, ok := protocols[currency]
	if !ok {
		protocol = "pay"
	}
	return fmt.Sprintf("%s:?r=%s/r/%s", protocol, baseURL, uid)
}

// InvoiceURL renders the external short URL persisted on the invoice itself.
func InvoiceURL(baseURL, uid string) string {
	return fmt.Sprintf("%s/r/%s", baseURL, uid)
}
