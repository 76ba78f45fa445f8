package main

// General API documentation for swaggo. Regenerate with
// `swag init -g cmd/kwextract/docs.go -o docs`.
//
// @title           kwextract API
// @version         1.0
// @description     Status and metrics surface for the keyword extraction pipeline.
//
// @BasePath  /
//
// @schemes http
