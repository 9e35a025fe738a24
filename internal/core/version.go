package core

// Version is the service version reported by metrics and the health endpoint.
const Version = "0.4.0"
