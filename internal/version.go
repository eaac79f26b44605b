package internal

// Version is the current version of termpost
const Version = "0.3.0"
