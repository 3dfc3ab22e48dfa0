// Package model defines the jMQTT entities mirrored by the test harness.
//
// # Entity Hierarchy
//
// jMQTT manages three levels of entities:
//
//	Broker > Equipment > Command
//
// A Broker is one MQTT connection handled by the plugin daemon. In Jeedom it
// is itself an eqLogic (the broker pseudo-equipment) whose configuration
// holds the connection parameters. It is always the first entry of the
// broker's equipment list, and its id equals its configuration brkId.
//
//	Broker (host)
//	├── Equipment host         (pseudo-equipment, type=broker)
//	│   ├── status             info, <clientId>/status
//	│   └── api                info, <clientId>/api
//	├── Equipment Actions      (type=eqpt, topic=actions/#)
//	│   ├── other_int          action, order 0
//	│   └── slider             action, order 1
//	└── ...
//
// # Comparison Surface
//
// Records are typed structures built from the embedded templates in
// templates/. Their JSON projection ([ToDoc]) is the comparison surface: any
// key the live system returns that the projection lacks is ignored by the
// reconciliation. [Doc] is the untyped shape used at the channel boundary
// only.
//
// # Values
//
// Command values travel as strings. [NormalizeValue] turns the literals
// "null", "true" and "false" into typed values and numbers into their
// decimal string so that both sides of a comparison agree.
package model
