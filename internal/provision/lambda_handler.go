package provision

import (
	"archive/zip"
	"bytes"
)

// copyHandlerSource is the Python handler deployed as the copy
// function. It drains SQS batches carrying S3 event notifications and
// copies each created object into the target bucket, which it reads
// from the TARGET_BUCKET environment variable set at function
// creation.
const copyHandlerSource = `import boto3
import json
import os
import urllib.parse
from datetime import datetime


def lambda_handler(event, context):
    """Copy newly created source-bucket objects into the target bucket.

    Triggered by SQS messages carrying SNS-wrapped S3 events.
    """

    print(f"Received event: {json.dumps(event)}")

    target_bucket = os.environ['TARGET_BUCKET']
    target_region = os.environ['TARGET_REGION']
    s3_target = boto3.client('s3', region_name=target_region)

    processed_count = 0
    errors = []

    for record in event.get('Records', []):
        try:
            message_body = json.loads(record['body'])
            sns_message = json.loads(message_body['Message'])

            for s3_record in sns_message.get('Records', []):
                event_name = s3_record['eventName']
                source_bucket = s3_record['s3']['bucket']['name']
                object_key = urllib.parse.unquote_plus(
                    s3_record['s3']['object']['key'],
                    encoding='utf-8'
                )

                if not event_name.startswith('ObjectCreated'):
                    print(f"Skipping event: {event_name}")
                    continue

                print(f"Copying {source_bucket}/{object_key} to {target_bucket}/{object_key}")
                s3_target.copy_object(
                    CopySource={'Bucket': source_bucket, 'Key': object_key},
                    Bucket=target_bucket,
                    Key=object_key,
                    MetadataDirective='COPY'
                )
                processed_count += 1
        except Exception as record_error:
            error_msg = f"Error processing record: {record_error}"
            print(error_msg)
            errors.append(error_msg)

    response = {
        'statusCode': 200 if not errors else 207,
        'body': json.dumps({
            'message': f'Processed {processed_count} files',
            'processed_count': processed_count,
            'errors': errors,
            'timestamp': datetime.now().isoformat()
        })
    }
    print(f"Lambda response: {json.dumps(response)}")
    return response
`

// packageCopyHandler assembles the deployment zip for the copy
// function in memory.
func packageCopyHandler() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("lambda_function.py")
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(copyHandlerSource)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
