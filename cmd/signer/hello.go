package main

import (
	"encoding/xml"
	"net/http"

	"github.com/beevik/etree"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lb-conn/wssecurity/application/usecases"
	"github.com/lb-conn/wssecurity/infrastructure/xmldsig"
)

const helloNamespace = "urn:example:hello"

type helloEnvelope struct {
	Body struct {
		Request *struct {
			Name string `xml:"name"`
		} `xml:"sayHelloRequest"`
	} `xml:"Body"`
}

// sayHello answers {name} with {message: "Hello, <name>"}. The request body
// has already been verified; the response is signed when a key is configured.
func sayHello(app *usecases.Application, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var env helloEnvelope
		if err := xml.NewDecoder(c.Request().Body).Decode(&env); err != nil || env.Body.Request == nil {
			return soapResponse(c, app, http.StatusBadRequest, fault("soap:Client", "expected a sayHelloRequest"))
		}

		resp := etree.NewElement("sayHelloResponse")
		resp.CreateAttr("xmlns", helloNamespace)
		resp.CreateElement("message").SetText("Hello, " + env.Body.Request.Name)

		if err := soapResponse(c, app, http.StatusOK, resp); err != nil {
			logger.Error("failed to send sayHello response", zap.Error(err))
			return err
		}
		return nil
	}
}

func fault(code, reason string) *etree.Element {
	f := etree.NewElement("soap:Fault")
	f.CreateElement("faultcode").SetText(code)
	f.CreateElement("faultstring").SetText(reason)
	return f
}

func soapResponse(c echo.Context, app *usecases.Application, status int, body *etree.Element) error {
	doc := etree.NewDocument()
	env := doc.CreateElement("soap:Envelope")
	env.CreateAttr("xmlns:soap", xmldsig.SOAP11Namespace)
	env.CreateElement("soap:Body").AddChild(body)

	out, err := doc.WriteToBytes()
	if err != nil {
		return err
	}
	if app.CanSign() {
		if out, err = app.Sign(out); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to sign response")
		}
	}
	return c.Blob(status, "text/xml; charset=utf-8", out)
}
