// Package docs provides the OpenAPI documentation for the ocrpdf server.
//
// ocrpdf API
//
//	@title			ocrpdf API
//	@version		1.0
//	@description	OCR service that turns scanned documents into searchable PDFs.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/ocrpdf
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g doc.go -d ./,../internal/server/endpoints -o . --outputTypes go --parseDependency --parseInternal
