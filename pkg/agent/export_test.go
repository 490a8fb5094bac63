package agent

var StripFences = stripFences
